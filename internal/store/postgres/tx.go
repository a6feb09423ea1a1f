package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fourcash/backend/internal/docpath"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/store"
)

type pgTx struct {
	tx *sql.Tx
}

const shiftColumns = `id, store_id, user_id, user_name, report_date_key, start_time, end_time, status, opening_balance`

func scanShift(row rowScanner) (*domain.Shift, error) {
	var (
		shift domain.Shift
		end   sql.NullTime
	)
	err := row.Scan(&shift.ID, &shift.StoreID, &shift.UserID, &shift.UserName, &shift.ReportDateKey, &shift.StartTime, &end, &shift.Status, &shift.OpeningBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.StartTime = shift.StartTime.UTC()
	if end.Valid {
		at := end.Time.UTC()
		shift.EndTime = &at
	}
	return &shift, nil
}

func (t *pgTx) GetShift(ctx context.Context, id string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM employee_shifts WHERE id = $1`, id))
}

func (t *pgTx) FindOpenShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM employee_shifts
		WHERE store_id = $1 AND user_id = $2 AND report_date_key = $3 AND status = $4
		ORDER BY start_time DESC
		LIMIT 1
	`, storeID, userID, reportDateKey, domain.ShiftStatusOpen))
}

func (t *pgTx) FindLatestClosedShift(ctx context.Context, storeID, userID, reportDateKey string) (*domain.Shift, error) {
	return scanShift(t.tx.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM employee_shifts
		WHERE store_id = $1 AND user_id = $2 AND report_date_key = $3 AND status = $4
		ORDER BY end_time DESC NULLS LAST
		LIMIT 1
	`, storeID, userID, reportDateKey, domain.ShiftStatusClosed))
}

func (t *pgTx) GetReport(ctx context.Context, id string) (docpath.Document, error) {
	var raw []byte
	err := t.tx.QueryRowContext(ctx, `SELECT doc FROM daily_reports WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return decodeDocument(raw)
}

func (t *pgTx) CreateShift(ctx context.Context, shift domain.Shift) error {
	if shift.ID == "" {
		return fmt.Errorf("%w: shift id required", store.ErrInvalidDocument)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO employee_shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, shift.ID, shift.StoreID, shift.UserID, shift.UserName, shift.ReportDateKey, shift.StartTime.UTC(), nullTime(shift.EndTime), shift.Status, shift.OpeningBalance)
	return err
}

// SetReport inserts a new report. A concurrent insert of the same id fails
// with a unique violation and the transaction is retried.
func (t *pgTx) SetReport(ctx context.Context, id string, doc docpath.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	storeID, _ := doc["storeId"].(string)
	dateKey, _ := doc["reportDateKey"].(string)
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO daily_reports (id, store_id, report_date_key, doc, updated_at)
		VALUES ($1,$2,$3,$4,now())
	`, id, storeID, dateKey, raw)
	return err
}

func (t *pgTx) UpdateReport(ctx context.Context, id string, updates []docpath.Update) error {
	doc, err := t.GetReport(ctx, id)
	if err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}
	if err := docpath.Apply(doc, updates); err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE daily_reports SET doc = $2, updated_at = now() WHERE id = $1`, id, raw)
	return err
}

func (t *pgTx) PatchDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	for name := range fields {
		if !store.PatchableField(name) {
			return fmt.Errorf("%w: field %q is not patchable", store.ErrInvalidDocument, name)
		}
	}
	if collection != store.CollectionBills && collection != store.CollectionCashTransactions {
		return fmt.Errorf("%w: collection %q is not patchable", store.ErrInvalidDocument, collection)
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE `+collection+` SET doc = doc || $2::jsonb WHERE id = $1`, id, raw)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", collection, id, store.ErrNotFound)
	}
	return nil
}

// decodeDocument keeps numbers as float64 so docpath increments line up
// with what the engine writes.
func decodeDocument(raw []byte) (docpath.Document, error) {
	var doc docpath.Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidDocument, err)
	}
	return doc, nil
}
