package store

import (
	"context"
	"errors"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("transaction conflict")
	ErrInvalidDocument = errors.New("invalid document")
	ErrAlreadyExists   = errors.New("already exists")
)

const (
	CollectionBills            = "bills"
	CollectionCashTransactions = "manual_cash_transactions"
	CollectionShifts           = "employee_shifts"
	CollectionReports          = "daily_reports"
	CollectionSettings         = "store_settings"
	CollectionProducts         = "products"
	CollectionUsers            = "users"
)

// ReportID is the daily_reports key for a store and business day.
func ReportID(storeID, reportDateKey string) string {
	return storeID + "_" + reportDateKey
}

// Tx is the read-then-write view handed to a transaction body. All reads
// must happen before the first write. The body may run more than once.
type Tx interface {
	GetShift(ctx context.Context, id string) (*domain.Shift, error)
	// FindOpenShift returns the most recently started open shift.
	FindOpenShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error)
	// FindLatestClosedShift returns the closed shift with the latest end time.
	FindLatestClosedShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error)
	GetReport(ctx context.Context, id string) (docpath.Document, error)

	CreateShift(ctx context.Context, shift domain.Shift) error
	SetReport(ctx context.Context, id string, doc docpath.Document) error
	UpdateReport(ctx context.Context, id string, updates []docpath.Update) error
	// PatchDocument sets top-level fields on a bill or cash transaction.
	PatchDocument(ctx context.Context, collection, id string, fields map[string]any) error
}

type TxFunc func(ctx context.Context, tx Tx) error

type Repository interface {
	// RunTransaction commits fn atomically, re-running it on conflict.
	RunTransaction(ctx context.Context, fn TxFunc) error

	GetStoreSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error)
	GetDailyReport(ctx context.Context, id string) (*domain.DailyReport, error)

	CreateBill(ctx context.Context, bill domain.Bill) error
	GetBill(ctx context.Context, id string) (*domain.Bill, error)
	CreateCashTransaction(ctx context.Context, tx domain.CashTransaction) error
	GetCashTransaction(ctx context.Context, id string) (*domain.CashTransaction, error)

	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)

	ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserAccount, error)
	FindUserByPhone(ctx context.Context, phoneNumber string) (*domain.UserAccount, error)
	SetUsersActive(ctx context.Context, uids []string, active bool) error
}

// PatchableField reports whether a source document field may be written by
// the aggregation pipeline.
func PatchableField(name string) bool {
	return name == "reportDateKey" || name == "shiftId"
}

// DecodeReport converts a stored report document into its typed view,
// unescaping map keys.
func DecodeReport(id string, doc docpath.Document) (*domain.DailyReport, error) {
	if doc == nil {
		return nil, ErrNotFound
	}
	report, err := decodeReport(doc)
	if err != nil {
		return nil, errors.Join(ErrInvalidDocument, err)
	}
	report.ID = id
	return report, nil
}
