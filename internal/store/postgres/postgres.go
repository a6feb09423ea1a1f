package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

const defaultMaxAttempts = 5

//go:embed schema.sql
var schemaSQL string

// Store keeps shifts, settings, products and users in plain tables and the
// report, bill and cash-transaction documents as JSONB. Transactions run at
// serializable isolation and are retried on serialization failures.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewWithDB(db), nil
}

func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, maxAttempts: defaultMaxAttempts}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn store.TxFunc) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetStoreSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error) {
	settings := domain.StoreSettings{StoreID: storeID}
	err := s.db.QueryRowContext(ctx, `
		SELECT report_cutoff_hour, report_cutoff_minute
		FROM store_settings
		WHERE store_id = $1
	`, storeID).Scan(&settings.ReportCutoffHour, &settings.ReportCutoffMinute)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Store) PutStoreSettings(ctx context.Context, settings domain.StoreSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO store_settings (store_id, report_cutoff_hour, report_cutoff_minute)
		VALUES ($1,$2,$3)
		ON CONFLICT (store_id)
		DO UPDATE SET report_cutoff_hour = EXCLUDED.report_cutoff_hour, report_cutoff_minute = EXCLUDED.report_cutoff_minute
	`, settings.StoreID, settings.ReportCutoffHour, settings.ReportCutoffMinute)
	return err
}

func (s *Store) GetDailyReport(ctx context.Context, id string) (*domain.DailyReport, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM daily_reports WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return store.DecodeReport(id, doc)
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) error {
	if strings.TrimSpace(bill.ID) == "" {
		return fmt.Errorf("%w: bill id required", store.ErrInvalidDocument)
	}
	return s.insertDocument(ctx, store.CollectionBills, bill.ID, bill.StoreID, bill)
}

func (s *Store) GetBill(ctx context.Context, id string) (*domain.Bill, error) {
	var bill domain.Bill
	if err := s.getDocument(ctx, store.CollectionBills, id, &bill); err != nil {
		return nil, err
	}
	bill.ID = id
	return &bill, nil
}

func (s *Store) CreateCashTransaction(ctx context.Context, tx domain.CashTransaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("%w: cash transaction id required", store.ErrInvalidDocument)
	}
	return s.insertDocument(ctx, store.CollectionCashTransactions, tx.ID, tx.StoreID, tx)
}

func (s *Store) GetCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error) {
	var tx domain.CashTransaction
	if err := s.getDocument(ctx, store.CollectionCashTransactions, id, &tx); err != nil {
		return nil, err
	}
	tx.ID = id
	return &tx, nil
}

// insertDocument and getDocument only ever receive the collection constants.
func (s *Store) insertDocument(ctx context.Context, table, id, storeID string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO `+table+` (id, store_id, doc) VALUES ($1,$2,$3)`, id, storeID, raw)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s %s: %w", table, id, store.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *Store) getDocument(ctx context.Context, table, id string, dest any) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM `+table+` WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, storeID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, product_name, stock, min_stock
		FROM products
		WHERE store_id = $1
		ORDER BY id
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.StoreID, &p.ProductName, &p.Stock, &p.MinStock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

const userColumns = `uid, phone_number, display_name, password_hash, role, store_id, active, subscription_expiry_date, fcm_tokens`

func (s *Store) ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserAccount, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("role", filter.Role)
	add("store_id", filter.StoreID)
	add("phone_number", filter.PhoneNumber)

	query := `SELECT ` + userColumns + ` FROM users`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY uid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) FindUserByPhone(ctx context.Context, phoneNumber string) (*domain.UserAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone_number = $1`, phoneNumber)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) SetUsersActive(ctx context.Context, uids []string, active bool) error {
	if len(uids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET active = $2 WHERE uid = ANY($1)`, uids, active)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.UserAccount, error) {
	var (
		u      domain.UserAccount
		expiry sql.NullTime
		tokens []byte
	)
	if err := row.Scan(&u.UID, &u.PhoneNumber, &u.DisplayName, &u.PasswordHash, &u.Role, &u.StoreID, &u.Active, &expiry, &tokens); err != nil {
		return domain.UserAccount{}, err
	}
	if expiry.Valid {
		at := expiry.Time.UTC()
		u.SubscriptionExpiryDate = &at
	}
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &u.FCMTokens); err != nil {
			return domain.UserAccount{}, fmt.Errorf("user %s fcm_tokens: %w", u.UID, err)
		}
	}
	return u, nil
}

// isRetryable covers serialization failures, deadlocks and the unique
// violation two racing creators of the same report or shift hit.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return errors.Is(err, store.ErrConflict)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}
