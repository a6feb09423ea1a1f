package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

type mongoTx struct {
	db *mongo.Database
}

func (t *mongoTx) shifts() *mongo.Collection {
	return t.db.Collection(store.CollectionShifts)
}

func (t *mongoTx) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return decodeShift(t.shifts().FindOne(ctx, bson.M{"_id": id}))
}

func (t *mongoTx) FindOpenShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return decodeShift(t.shifts().FindOne(ctx,
		shiftFilter(storeID, userID, reportDateKey, domain.ShiftStatusOpen),
		options.FindOne().SetSort(bson.D{{Key: "startTime", Value: -1}})))
}

func (t *mongoTx) FindLatestClosedShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return decodeShift(t.shifts().FindOne(ctx,
		shiftFilter(storeID, userID, reportDateKey, domain.ShiftStatusClosed),
		options.FindOne().SetSort(bson.D{{Key: "endTime", Value: -1}})))
}

func shiftFilter(storeID, userID, reportDateKey, status string) bson.M {
	return bson.M{"storeId": storeID, "userId": userID, "reportDateKey": reportDateKey, "status": status}
}

func decodeShift(res *mongo.SingleResult) (*domain.Shift, error) {
	var shift domain.Shift
	if err := res.Decode(&shift); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.StartTime = shift.StartTime.UTC()
	return &shift, nil
}

func (t *mongoTx) GetReport(ctx context.Context, id string) (docpath.Document, error) {
	var raw bson.M
	err := t.db.Collection(store.CollectionReports).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	delete(raw, "_id")
	return normalizeDocument(raw), nil
}

func (t *mongoTx) CreateShift(ctx context.Context, shift domain.Shift) error {
	if shift.ID == "" {
		return fmt.Errorf("%w: shift id required", store.ErrInvalidDocument)
	}
	_, err := t.shifts().InsertOne(ctx, shift)
	return err
}

func (t *mongoTx) SetReport(ctx context.Context, id string, doc docpath.Document) error {
	body := docpath.Clone(doc)
	body["_id"] = id
	_, err := t.db.Collection(store.CollectionReports).InsertOne(ctx, body)
	return err
}

func (t *mongoTx) UpdateReport(ctx context.Context, id string, updates []docpath.Update) error {
	update, err := buildUpdate(updates)
	if err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}
	if len(update) == 0 {
		return nil
	}
	res, err := t.db.Collection(store.CollectionReports).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("report %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *mongoTx) PatchDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	for name := range fields {
		if !store.PatchableField(name) {
			return fmt.Errorf("%w: field %q is not patchable", store.ErrInvalidDocument, name)
		}
	}
	if collection != store.CollectionBills && collection != store.CollectionCashTransactions {
		return fmt.Errorf("%w: collection %q is not patchable", store.ErrInvalidDocument, collection)
	}
	res, err := t.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

// buildUpdate maps docpath updates onto $inc and $set with dotted keys.
func buildUpdate(updates []docpath.Update) (bson.M, error) {
	inc := bson.M{}
	set := bson.M{}
	for _, u := range updates {
		if len(u.Path) == 0 {
			return nil, docpath.ErrEmptyPath
		}
		switch u.Op {
		case docpath.OpIncrement:
			delta, ok := docpath.ToFloat(u.Value)
			if !ok {
				return nil, fmt.Errorf("%s: %w", u.Key(), docpath.ErrNotNumeric)
			}
			inc[u.Key()] = delta
		case docpath.OpSet:
			set[u.Key()] = u.Value
		default:
			return nil, fmt.Errorf("docpath: unknown op %d", u.Op)
		}
	}
	update := bson.M{}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(set) > 0 {
		update["$set"] = set
	}
	return update, nil
}

// normalizeDocument converts driver types into the plain maps, slices and
// times docpath works with.
func normalizeDocument(in map[string]any) docpath.Document {
	out := make(docpath.Document, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case primitive.M:
		return normalizeDocument(typed)
	case map[string]any:
		return normalizeDocument(typed)
	case primitive.D:
		out := make(docpath.Document, len(typed))
		for _, e := range typed {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.DateTime:
		return typed.Time().UTC()
	default:
		return v
	}
}
