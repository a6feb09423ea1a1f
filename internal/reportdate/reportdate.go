// Package reportdate maps event timestamps to business days.
//
// A store's business day starts at its configured cutoff (hour:minute in the
// store's fixed civil timezone). Events before the cutoff belong to the
// previous calendar date.
package reportdate

import (
	"context"
	"errors"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

const KeyLayout = "2006-01-02"

type Info struct {
	// Key is the business day formatted YYYY-MM-DD.
	Key string
	// DayStart is the instant the business day began.
	DayStart time.Time
	// Date is the business day at UTC midnight.
	Date time.Time
}

type SettingsSource interface {
	GetStoreSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error)
}

type Resolver struct {
	settings SettingsSource
	loc      *time.Location
	log      logrus.FieldLogger
}

func NewResolver(settings SettingsSource, loc *time.Location, log logrus.FieldLogger) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{settings: settings, loc: loc, log: log}
}

// Resolve never fails: settings that cannot be loaded fall back to a
// midnight cutoff.
func (r *Resolver) Resolve(ctx context.Context, storeID string, at time.Time) Info {
	hour, minute := 0, 0
	settings, err := r.settings.GetStoreSettings(ctx, storeID)
	switch {
	case err == nil && settings != nil:
		hour, minute = clampCutoff(settings.ReportCutoffHour, settings.ReportCutoffMinute)
	case errors.Is(err, store.ErrNotFound):
	default:
		r.log.WithError(err).WithField("store_id", storeID).Warn("load store settings failed, using 00:00 cutoff")
	}
	return Compute(at, r.loc, hour, minute)
}

func Compute(at time.Time, loc *time.Location, hour, minute int) Info {
	local := at.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	if local.Before(cutoff) {
		day = day.AddDate(0, 0, -1)
		cutoff = cutoff.AddDate(0, 0, -1)
	}
	return Info{
		Key:      day.Format(KeyLayout),
		DayStart: cutoff,
		Date:     time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
	}
}

func clampCutoff(hour, minute int) (int, int) {
	if hour < 0 || hour > 23 {
		hour = 0
	}
	if minute < 0 || minute > 59 {
		minute = 0
	}
	return hour, minute
}
