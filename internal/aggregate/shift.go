package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/reportdate"
	"fourcash/backend/internal/store"
)

type shiftRequest struct {
	StoreID       string
	UserID        string
	UserName      string
	ClientShiftID string
	Day           reportdate.Info
}

type shiftResult struct {
	Shift domain.Shift
	IsNew bool
}

// resolveShift picks the shift an event belongs to. Order: the client's
// shift id when it exists in the same store, else the newest open shift for
// the user and day, else a new shift that starts where the last closed one
// ended. An unknown client shift id is kept as the id of the new shift; a
// shift id from another store gets a fresh server id.
func (e *Engine) resolveShift(ctx context.Context, tx store.Tx, req shiftRequest, log logrus.FieldLogger) (shiftResult, error) {
	if req.ClientShiftID != "" {
		shift, err := tx.GetShift(ctx, req.ClientShiftID)
		switch {
		case err == nil && shift.StoreID == req.StoreID:
			return shiftResult{Shift: *shift}, nil
		case err == nil:
			log.WithFields(logrus.Fields{"client_shift_id": req.ClientShiftID, "shift_store_id": shift.StoreID}).
				Warn("client shift belongs to another store, starting a new shift")
			return e.newShift(ctx, tx, req, e.newShiftID())
		case errors.Is(err, store.ErrNotFound):
			log.WithField("client_shift_id", req.ClientShiftID).Warn("client shift not found, starting a new shift with that id")
			return e.newShift(ctx, tx, req, req.ClientShiftID)
		default:
			return shiftResult{}, err
		}
	}

	open, err := tx.FindOpenShift(ctx, req.StoreID, req.UserID, req.Day.Key)
	if err == nil {
		return shiftResult{Shift: *open}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return shiftResult{}, err
	}
	return e.newShift(ctx, tx, req, e.newShiftID())
}

func (e *Engine) newShift(ctx context.Context, tx store.Tx, req shiftRequest, id string) (shiftResult, error) {
	start := req.Day.DayStart
	closed, err := tx.FindLatestClosedShift(ctx, req.StoreID, req.UserID, req.Day.Key)
	switch {
	case err == nil:
		if closed.EndTime != nil {
			start = *closed.EndTime
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return shiftResult{}, err
	}

	return shiftResult{
		IsNew: true,
		Shift: domain.Shift{
			ID:             id,
			StoreID:        req.StoreID,
			UserID:         req.UserID,
			UserName:       req.UserName,
			ReportDateKey:  req.Day.Key,
			StartTime:      start.In(time.UTC),
			EndTime:        nil,
			Status:         domain.ShiftStatusOpen,
			OpeningBalance: 0,
		},
	}, nil
}
