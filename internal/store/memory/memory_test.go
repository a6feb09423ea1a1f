package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/logging"
	"fourcash/backend/internal/store"
)

func TestRunTransactionRetriesOnConflictingCommit(t *testing.T) {
	s := New()
	ctx := context.Background()
	attempts := 0

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		attempts++
		doc, err := tx.GetReport(ctx, "r1")
		if errors.Is(err, store.ErrNotFound) {
			if attempts == 1 {
				// A concurrent writer creates the report between our read and commit.
				require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, inner store.Tx) error {
					return inner.SetReport(ctx, "r1", docpath.Document{"billCount": 1.0})
				}))
			}
			return tx.SetReport(ctx, "r1", docpath.Document{"billCount": 1.0})
		}
		require.NoError(t, err)
		require.NotNil(t, doc)
		return tx.UpdateReport(ctx, "r1", []docpath.Update{docpath.Increment(1, "billCount")})
	})
	require.NoError(t, err)

	assert.Equal(t, 2, attempts)
	doc, ok := s.ReportDocument("r1")
	require.True(t, ok)
	assert.Equal(t, 2.0, doc["billCount"])
}

func TestRunTransactionGivesUpAfterMaxAttempts(t *testing.T) {
	s := New(WithMaxAttempts(2))
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetReport(ctx, "r1"); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		require.NoError(t, s.RunTransaction(ctx, func(ctx context.Context, inner store.Tx) error {
			return inner.SetReport(ctx, "r1", docpath.Document{})
		}))
		return tx.SetReport(ctx, "r1", docpath.Document{})
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestFailedWriteLeavesStoreUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateShift(ctx, domain.Shift{ID: "s1", StoreID: "st", UserID: "u", ReportDateKey: "2024-03-01", Status: domain.ShiftStatusOpen}); err != nil {
			return err
		}
		return tx.PatchDocument(ctx, store.CollectionBills, "missing-bill", map[string]any{"shiftId": "s1"})
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, s.Shifts("st"))
}

func TestReadAfterWriteIsRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.SetReport(ctx, "r1", docpath.Document{}); err != nil {
			return err
		}
		_, err := tx.GetReport(ctx, "r1")
		return err
	})
	assert.ErrorIs(t, err, errReadAfterWrite)
}

func TestFindShiftOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	end1 := base.Add(2 * time.Hour)
	end2 := base.Add(4 * time.Hour)

	s.PutShift(domain.Shift{ID: "c1", StoreID: "st", UserID: "u", ReportDateKey: "2024-03-01", StartTime: base, EndTime: &end1, Status: domain.ShiftStatusClosed})
	s.PutShift(domain.Shift{ID: "c2", StoreID: "st", UserID: "u", ReportDateKey: "2024-03-01", StartTime: end1, EndTime: &end2, Status: domain.ShiftStatusClosed})
	s.PutShift(domain.Shift{ID: "o1", StoreID: "st", UserID: "u", ReportDateKey: "2024-03-01", StartTime: base, Status: domain.ShiftStatusOpen})
	s.PutShift(domain.Shift{ID: "o2", StoreID: "st", UserID: "u", ReportDateKey: "2024-03-01", StartTime: end2, Status: domain.ShiftStatusOpen})
	s.PutShift(domain.Shift{ID: "other", StoreID: "st", UserID: "v", ReportDateKey: "2024-03-01", StartTime: end2, Status: domain.ShiftStatusOpen})

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		open, err := tx.FindOpenShift(ctx, "st", "u", "2024-03-01")
		require.NoError(t, err)
		assert.Equal(t, "o2", open.ID)

		closed, err := tx.FindLatestClosedShift(ctx, "st", "u", "2024-03-01")
		require.NoError(t, err)
		assert.Equal(t, "c2", closed.ID)

		_, err = tx.FindOpenShift(ctx, "st", "u", "2024-03-02")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPatchDocumentUpdatesBill(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBill(ctx, domain.Bill{ID: "b1", StoreID: "st"}))

	err := s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PatchDocument(ctx, store.CollectionBills, "b1", map[string]any{"reportDateKey": "2024-03-01", "shiftId": "s1"})
	})
	require.NoError(t, err)

	bill, err := s.GetBill(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", bill.ReportDateKey)
	assert.Equal(t, "s1", bill.ShiftID)

	err = s.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PatchDocument(ctx, store.CollectionBills, "b1", map[string]any{"totalPayable": 0})
	})
	assert.ErrorIs(t, err, store.ErrInvalidDocument)
}

func TestCreateBillRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateBill(ctx, domain.Bill{ID: "b1"}))
	assert.ErrorIs(t, s.CreateBill(ctx, domain.Bill{ID: "b1"}), store.ErrAlreadyExists)
}

func TestListUsersFiltersAndSetUsersActive(t *testing.T) {
	s := NewSeeded(logging.Discard())
	ctx := context.Background()

	owners, err := s.ListUsers(ctx, domain.UserFilter{Role: domain.RoleOwner})
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, "owner-1", owners[0].UID)

	require.NoError(t, s.SetUsersActive(ctx, []string{"owner-1", "employee-1", "ghost"}, false))
	user, err := s.FindUserByPhone(ctx, "+84900000002")
	require.NoError(t, err)
	assert.False(t, user.Active)

	_, err = s.FindUserByPhone(ctx, "0999999999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
