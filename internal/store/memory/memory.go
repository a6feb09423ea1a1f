package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

const defaultMaxAttempts = 5

// Store is an in-process Repository. Transactions are optimistic: every read
// records the version of what it saw, and commit fails with ErrConflict if a
// concurrent commit bumped any of those versions in the meantime.
type Store struct {
	mu          sync.RWMutex
	versions    map[string]uint64
	shifts      map[string]domain.Shift
	reports     map[string]docpath.Document
	bills       map[string]domain.Bill
	cashTxs     map[string]domain.CashTransaction
	settings    map[string]domain.StoreSettings
	products    map[string]domain.Product
	users       map[string]domain.UserAccount
	maxAttempts int
}

type Option func(*Store)

// WithMaxAttempts bounds how often a conflicting transaction is re-run.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		versions:    make(map[string]uint64),
		shifts:      make(map[string]domain.Shift),
		reports:     make(map[string]docpath.Document),
		bills:       make(map[string]domain.Bill),
		cashTxs:     make(map[string]domain.CashTransaction),
		settings:    make(map[string]domain.StoreSettings),
		products:    make(map[string]domain.Product),
		users:       make(map[string]domain.UserAccount),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewSeeded returns a store with a demo owner, a demo employee, store
// settings and a handful of products for local development.
func NewSeeded(log logrus.FieldLogger) *Store {
	s := New()
	const storeID = "demo-store"

	s.PutSettings(domain.StoreSettings{StoreID: storeID, ReportCutoffHour: 4})
	for _, p := range []domain.Product{
		{ID: "cafe-sua", StoreID: storeID, ProductName: "Cà phê sữa", Stock: 40, MinStock: 10},
		{ID: "tra-dao", StoreID: storeID, ProductName: "Trà đào", Stock: 25, MinStock: 10},
		{ID: "banh-mi", StoreID: storeID, ProductName: "Bánh mì", Stock: 3, MinStock: 5},
	} {
		s.PutProduct(p)
	}
	for _, u := range seedUsers(log, storeID) {
		s.PutUser(u)
	}
	return s
}

// seedUsers builds the dev accounts. Passwords come from SEED_OWNER_PASSWORD
// and SEED_EMPLOYEE_PASSWORD, falling back to fixed dev values with a warning.
func seedUsers(log logrus.FieldLogger, storeID string) []domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	employeePwd := envOr("SEED_EMPLOYEE_PASSWORD", "employee123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_EMPLOYEE_PASSWORD") == "" {
		log.Warn("memory store: using default dev credentials; set SEED_OWNER_PASSWORD and SEED_EMPLOYEE_PASSWORD to override")
	}

	expiry := time.Now().UTC().AddDate(0, 1, 0)
	users := make([]domain.UserAccount, 0, 2)
	for _, u := range []struct {
		uid, phone, name, password, role string
	}{
		{"owner-1", "+84900000001", "Chủ cửa hàng", ownerPwd, domain.RoleOwner},
		{"employee-1", "+84900000002", "Nhân viên", employeePwd, "employee"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.WithError(err).Errorf("memory store: hash seed password for %s", u.uid)
			continue
		}
		account := domain.UserAccount{
			UID:          u.uid,
			PhoneNumber:  u.phone,
			DisplayName:  u.name,
			PasswordHash: string(hash),
			Role:         u.role,
			StoreID:      storeID,
			Active:       true,
		}
		if u.role == domain.RoleOwner {
			account.SubscriptionExpiryDate = &expiry
		}
		users = append(users, account)
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) PutSettings(settings domain.StoreSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.StoreID] = settings
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.FCMTokens = slices.Clone(user.FCMTokens)
	s.users[user.UID] = user
}

// PutShift stores a shift outside any transaction, e.g. a shift closed by
// the client.
func (s *Store) PutShift(shift domain.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts[shift.ID] = cloneShift(shift)
	s.bump(shiftKey(shift.ID))
	s.bump(shiftQueryKey(shift.StoreID, shift.UserID, shift.ReportDateKey))
}

// Shifts returns all shifts of a store, for assertions and admin views.
func (s *Store) Shifts(storeID string) []domain.Shift {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Shift, 0)
	for _, shift := range s.shifts {
		if shift.StoreID == storeID {
			out = append(out, cloneShift(shift))
		}
	}
	slices.SortFunc(out, func(a, b domain.Shift) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}

func (s *Store) RunTransaction(ctx context.Context, fn store.TxFunc) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{s: s, reads: make(map[string]uint64)}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= s.maxAttempts {
			return err
		}
	}
}

func (s *Store) GetStoreSettings(_ context.Context, storeID string) (*domain.StoreSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	settings, ok := s.settings[storeID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) GetDailyReport(_ context.Context, id string) (*domain.DailyReport, error) {
	s.mu.RLock()
	doc, ok := s.reports[id]
	if ok {
		doc = docpath.Clone(doc)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.DecodeReport(id, doc)
}

// ReportDocument returns a copy of the raw report document.
func (s *Store) ReportDocument(id string) (docpath.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.reports[id]
	return docpath.Clone(doc), ok
}

func (s *Store) CreateBill(_ context.Context, bill domain.Bill) error {
	if strings.TrimSpace(bill.ID) == "" {
		return fmt.Errorf("%w: bill id required", store.ErrInvalidDocument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bills[bill.ID]; exists {
		return fmt.Errorf("bill %s: %w", bill.ID, store.ErrAlreadyExists)
	}
	s.bills[bill.ID] = cloneBill(bill)
	s.bump(docKey(store.CollectionBills, bill.ID))
	return nil
}

func (s *Store) GetBill(_ context.Context, id string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bill, ok := s.bills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneBill(bill)
	return &out, nil
}

func (s *Store) CreateCashTransaction(_ context.Context, tx domain.CashTransaction) error {
	if strings.TrimSpace(tx.ID) == "" {
		return fmt.Errorf("%w: cash transaction id required", store.ErrInvalidDocument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cashTxs[tx.ID]; exists {
		return fmt.Errorf("cash transaction %s: %w", tx.ID, store.ErrAlreadyExists)
	}
	s.cashTxs[tx.ID] = tx
	s.bump(docKey(store.CollectionCashTransactions, tx.ID))
	return nil
}

func (s *Store) GetCashTransaction(_ context.Context, id string) (*domain.CashTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.cashTxs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) ListProducts(_ context.Context, storeID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0)
	for _, p := range s.products {
		if p.StoreID == storeID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) ListUsers(_ context.Context, filter domain.UserFilter) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UserAccount, 0)
	for _, u := range s.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.StoreID != "" && u.StoreID != filter.StoreID {
			continue
		}
		if filter.PhoneNumber != "" && u.PhoneNumber != filter.PhoneNumber {
			continue
		}
		u.FCMTokens = slices.Clone(u.FCMTokens)
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.UserAccount) int { return strings.Compare(a.UID, b.UID) })
	return out, nil
}

func (s *Store) FindUserByPhone(ctx context.Context, phoneNumber string) (*domain.UserAccount, error) {
	users, err := s.ListUsers(ctx, domain.UserFilter{PhoneNumber: phoneNumber})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, store.ErrNotFound
	}
	return &users[0], nil
}

func (s *Store) SetUsersActive(_ context.Context, uids []string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uid := range uids {
		u, ok := s.users[uid]
		if !ok {
			continue
		}
		u.Active = active
		s.users[uid] = u
	}
	return nil
}

// bump must be called with mu held for writing.
func (s *Store) bump(key string) {
	s.versions[key]++
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func shiftKey(id string) string {
	return docKey(store.CollectionShifts, id)
}

func shiftQueryKey(storeID, userID, reportDateKey string) string {
	return "query:" + store.CollectionShifts + "/" + storeID + "|" + userID + "|" + reportDateKey
}

func reportKey(id string) string {
	return docKey(store.CollectionReports, id)
}

func cloneShift(shift domain.Shift) domain.Shift {
	if shift.EndTime != nil {
		end := *shift.EndTime
		shift.EndTime = &end
	}
	return shift
}

func cloneBill(bill domain.Bill) domain.Bill {
	bill.Items = slices.Clone(bill.Items)
	bill.Surcharges = slices.Clone(bill.Surcharges)
	if bill.Payments != nil {
		payments := make(map[string]float64, len(bill.Payments))
		for k, v := range bill.Payments {
			payments[k] = v
		}
		bill.Payments = payments
	}
	return bill
}
