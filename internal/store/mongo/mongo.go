// Package mongo is the document-database Repository. Report merges use the
// server's own $inc and $set on dotted paths inside a multi-document
// transaction, so it needs a replica set.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the shift lookup and phone-number indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(store.CollectionShifts).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "storeId", Value: 1}, {Key: "userId", Value: 1}, {Key: "reportDateKey", Value: 1}, {Key: "status", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("shift index: %w", err)
	}
	_, err = s.db.Collection(store.CollectionUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phoneNumber", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("user index: %w", err)
	}
	return nil
}

// RunTransaction relies on the driver's WithTransaction, which re-runs the
// body on transient errors such as write conflicts.
func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc, &mongoTx{db: s.db})
	}, txnOpts)
	return err
}

func (s *Store) GetStoreSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error) {
	var settings domain.StoreSettings
	if err := s.findByID(ctx, store.CollectionSettings, storeID, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) PutStoreSettings(ctx context.Context, settings domain.StoreSettings) error {
	_, err := s.db.Collection(store.CollectionSettings).ReplaceOne(ctx,
		bson.M{"_id": settings.StoreID}, settings, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) GetDailyReport(ctx context.Context, id string) (*domain.DailyReport, error) {
	var report domain.DailyReport
	if err := s.findByID(ctx, store.CollectionReports, id, &report); err != nil {
		return nil, err
	}
	report.ID = id
	store.UnescapeReportKeys(&report)
	return &report, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) error {
	if strings.TrimSpace(bill.ID) == "" {
		return fmt.Errorf("%w: bill id required", store.ErrInvalidDocument)
	}
	return s.insert(ctx, store.CollectionBills, bill.ID, bill)
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	var bill domain.Bill
	if err := s.findByID(ctx, store.CollectionBills, id, &bill); err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) CreateCashTransaction(ctx context.Context, tx domain.CashTransaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("%w: cash transaction id required", store.ErrInvalidDocument)
	}
	return s.insert(ctx, store.CollectionCashTransactions, tx.ID, tx)
}

func (s *Store) GetCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error) {
	var tx domain.CashTransaction
	if err := s.findByID(ctx, store.CollectionCashTransactions, id, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *Store) insert(ctx context.Context, collection, id string, doc any) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s %s: %w", collection, id, store.ErrAlreadyExists)
	}
	return err
}

func (s *Store) findByID(ctx context.Context, collection, id string, dest any) error {
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(dest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	products := make([]domain.Product, 0)
	if err := s.findAll(ctx, store.CollectionProducts, bson.M{"storeId": storeID}, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) PutProduct(ctx context.Context, product domain.Product) error {
	_, err := s.db.Collection(store.CollectionProducts).ReplaceOne(ctx,
		bson.M{"_id": product.ID}, product, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserAccount, error) {
	query := bson.M{}
	if filter.Role != "" {
		query["role"] = filter.Role
	}
	if filter.StoreID != "" {
		query["storeId"] = filter.StoreID
	}
	if filter.PhoneNumber != "" {
		query["phoneNumber"] = filter.PhoneNumber
	}
	users := make([]domain.UserAccount, 0)
	if err := s.findAll(ctx, store.CollectionUsers, query, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) PutUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.Collection(store.CollectionUsers).ReplaceOne(ctx,
		bson.M{"_id": user.UID}, user, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) FindUserByPhone(ctx context.Context, phoneNumber string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.Collection(store.CollectionUsers).FindOne(ctx, bson.M{"phoneNumber": phoneNumber}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) SetUsersActive(ctx context.Context, uids []string, active bool) error {
	if len(uids) == 0 {
		return nil
	}
	_, err := s.db.Collection(store.CollectionUsers).UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": uids}},
		bson.M{"$set": bson.M{"active": active}})
	return err
}

func (s *Store) findAll(ctx context.Context, collection string, filter bson.M, dest any) error {
	cursor, err := s.db.Collection(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	return cursor.All(ctx, dest)
}
