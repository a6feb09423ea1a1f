package memory

import (
	"context"
	"errors"
	"fmt"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

var errReadAfterWrite = errors.New("memory store: read after write in transaction")

type memTx struct {
	s      *Store
	reads  map[string]uint64
	writes []func(*staging) error
}

func (t *memTx) observe(key string) {
	if _, seen := t.reads[key]; !seen {
		t.reads[key] = t.s.versions[key]
	}
}

func (t *memTx) beforeRead() error {
	if len(t.writes) > 0 {
		return errReadAfterWrite
	}
	return nil
}

func (t *memTx) GetShift(_ context.Context, id string) (*domain.Shift, error) {
	if err := t.beforeRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	t.observe(shiftKey(id))
	shift, ok := t.s.shifts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneShift(shift)
	return &out, nil
}

func (t *memTx) FindOpenShift(_ context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return t.findShift(storeID, userID, reportDateKey, domain.ShiftStatusOpen, func(a, b domain.Shift) bool {
		return a.StartTime.After(b.StartTime)
	})
}

func (t *memTx) FindLatestClosedShift(_ context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return t.findShift(storeID, userID, reportDateKey, domain.ShiftStatusClosed, func(a, b domain.Shift) bool {
		if a.EndTime == nil || b.EndTime == nil {
			return a.EndTime != nil
		}
		return a.EndTime.After(*b.EndTime)
	})
}

func (t *memTx) findShift(storeID, userID, reportDateKey, status string, newer func(a, b domain.Shift) bool) (*domain.Shift, error) {
	if err := t.beforeRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	t.observe(shiftQueryKey(storeID, userID, reportDateKey))

	var best *domain.Shift
	for _, shift := range t.s.shifts {
		if shift.StoreID != storeID || shift.UserID != userID || shift.ReportDateKey != reportDateKey || shift.Status != status {
			continue
		}
		if best == nil || newer(shift, *best) {
			candidate := cloneShift(shift)
			best = &candidate
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (t *memTx) GetReport(_ context.Context, id string) (docpath.Document, error) {
	if err := t.beforeRead(); err != nil {
		return nil, err
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	t.observe(reportKey(id))
	doc, ok := t.s.reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return docpath.Clone(doc), nil
}

func (t *memTx) CreateShift(_ context.Context, shift domain.Shift) error {
	if shift.ID == "" {
		return fmt.Errorf("%w: shift id required", store.ErrInvalidDocument)
	}
	shift = cloneShift(shift)
	t.writes = append(t.writes, func(st *staging) error {
		if _, exists := st.shift(shift.ID); exists {
			return fmt.Errorf("shift %s: %w", shift.ID, store.ErrConflict)
		}
		st.shifts[shift.ID] = shift
		return nil
	})
	return nil
}

func (t *memTx) SetReport(_ context.Context, id string, doc docpath.Document) error {
	doc = docpath.Clone(doc)
	t.writes = append(t.writes, func(st *staging) error {
		st.reports[id] = doc
		return nil
	})
	return nil
}

func (t *memTx) UpdateReport(_ context.Context, id string, updates []docpath.Update) error {
	t.writes = append(t.writes, func(st *staging) error {
		doc, ok := st.report(id)
		if !ok {
			return fmt.Errorf("report %s: %w", id, store.ErrNotFound)
		}
		if err := docpath.Apply(doc, updates); err != nil {
			return fmt.Errorf("report %s: %w", id, err)
		}
		st.reports[id] = doc
		return nil
	})
	return nil
}

func (t *memTx) PatchDocument(_ context.Context, collection, id string, fields map[string]any) error {
	for name := range fields {
		if !store.PatchableField(name) {
			return fmt.Errorf("%w: field %q is not patchable", store.ErrInvalidDocument, name)
		}
	}
	reportDateKey, _ := fields["reportDateKey"].(string)
	shiftID, _ := fields["shiftId"].(string)

	switch collection {
	case store.CollectionBills:
		t.writes = append(t.writes, func(st *staging) error {
			bill, ok := st.bill(id)
			if !ok {
				return fmt.Errorf("bill %s: %w", id, store.ErrNotFound)
			}
			if _, set := fields["reportDateKey"]; set {
				bill.ReportDateKey = reportDateKey
			}
			if _, set := fields["shiftId"]; set {
				bill.ShiftID = shiftID
			}
			st.bills[id] = bill
			return nil
		})
	case store.CollectionCashTransactions:
		t.writes = append(t.writes, func(st *staging) error {
			tx, ok := st.cashTx(id)
			if !ok {
				return fmt.Errorf("cash transaction %s: %w", id, store.ErrNotFound)
			}
			if _, set := fields["reportDateKey"]; set {
				tx.ReportDateKey = reportDateKey
			}
			if _, set := fields["shiftId"]; set {
				tx.ShiftID = shiftID
			}
			st.cashTxs[id] = tx
			return nil
		})
	default:
		return fmt.Errorf("%w: collection %q is not patchable", store.ErrInvalidDocument, collection)
	}
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range t.reads {
		if s.versions[key] != seen {
			return store.ErrConflict
		}
	}

	st := newStaging(s)
	for _, write := range t.writes {
		if err := write(st); err != nil {
			return err
		}
	}
	st.flush()
	return nil
}

// staging collects a transaction's writes so that a failing write leaves
// the store untouched.
type staging struct {
	s       *Store
	shifts  map[string]domain.Shift
	reports map[string]docpath.Document
	bills   map[string]domain.Bill
	cashTxs map[string]domain.CashTransaction
}

func newStaging(s *Store) *staging {
	return &staging{
		s:       s,
		shifts:  make(map[string]domain.Shift),
		reports: make(map[string]docpath.Document),
		bills:   make(map[string]domain.Bill),
		cashTxs: make(map[string]domain.CashTransaction),
	}
}

func (st *staging) shift(id string) (domain.Shift, bool) {
	if shift, ok := st.shifts[id]; ok {
		return shift, true
	}
	shift, ok := st.s.shifts[id]
	return shift, ok
}

func (st *staging) report(id string) (docpath.Document, bool) {
	if doc, ok := st.reports[id]; ok {
		return doc, true
	}
	doc, ok := st.s.reports[id]
	if !ok {
		return nil, false
	}
	return docpath.Clone(doc), true
}

func (st *staging) bill(id string) (domain.Bill, bool) {
	if bill, ok := st.bills[id]; ok {
		return bill, true
	}
	bill, ok := st.s.bills[id]
	return cloneBill(bill), ok
}

func (st *staging) cashTx(id string) (domain.CashTransaction, bool) {
	if tx, ok := st.cashTxs[id]; ok {
		return tx, true
	}
	tx, ok := st.s.cashTxs[id]
	return tx, ok
}

func (st *staging) flush() {
	s := st.s
	for id, shift := range st.shifts {
		s.shifts[id] = shift
		s.bump(shiftKey(id))
		s.bump(shiftQueryKey(shift.StoreID, shift.UserID, shift.ReportDateKey))
	}
	for id, doc := range st.reports {
		s.reports[id] = doc
		s.bump(reportKey(id))
	}
	for id, bill := range st.bills {
		s.bills[id] = bill
		s.bump(docKey(store.CollectionBills, id))
	}
	for id, tx := range st.cashTxs {
		s.cashTxs[id] = tx
		s.bump(docKey(store.CollectionCashTransactions, id))
	}
}
