// Package aggregate folds bills and cash transactions into daily reports.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/reportdate"
	"fourcash/backend/internal/store"
	"fourcash/backend/internal/xid"
)

const tracerName = "fourcash/backend/internal/aggregate"

// DateResolver maps an event time to the store's business day.
type DateResolver interface {
	Resolve(ctx context.Context, storeID string, at time.Time) reportdate.Info
}

// Result describes what an aggregation did. Skipped results carry a reason
// and nothing was written.
type Result struct {
	Skipped       bool
	Reason        string
	ReportID      string
	ReportDateKey string
	ShiftID       string
	NewShift      bool
	NewReport     bool
}

// Engine folds bills and cash transactions into daily reports.
type Engine struct {
	repo       store.Repository
	dates      DateResolver
	log        logrus.FieldLogger
	tracer     trace.Tracer
	validate   *validator.Validate
	newShiftID func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithShiftIDs overrides server-side shift id generation.
func WithShiftIDs(fn func() string) Option {
	return func(e *Engine) { e.newShiftID = fn }
}

func NewEngine(repo store.Repository, dates DateResolver, log logrus.FieldLogger, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		dates:      dates,
		log:        log,
		tracer:     otel.Tracer(tracerName),
		validate:   validator.New(),
		newShiftID: func() string { return xid.New("shift") },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type source struct {
	collection    string
	id            string
	storeID       string
	userID        string
	userName      string
	clientShiftID string
	at            time.Time
}

func (e *Engine) AggregateBill(ctx context.Context, billID string, bill domain.Bill) (Result, error) {
	log := e.log.WithFields(logrus.Fields{"doc_id": billID, "kind": "bill"})
	if bill.Status != domain.StatusCompleted {
		return Result{Skipped: true, Reason: "status " + bill.Status}, nil
	}
	if err := e.validate.Struct(bill); err != nil {
		log.WithError(err).Info("bill missing required fields, skipping")
		return Result{Skipped: true, Reason: "missing required fields"}, nil
	}

	ctx, span := e.tracer.Start(ctx, "aggregate.bill", trace.WithAttributes(
		attribute.String("doc.id", billID),
		attribute.String("store.id", bill.StoreID),
	))
	defer span.End()

	res, err := e.run(ctx, span, log, source{
		collection:    store.CollectionBills,
		id:            billID,
		storeID:       bill.StoreID,
		userID:        bill.CreatedByUID,
		userName:      bill.CreatedByName,
		clientShiftID: bill.ShiftID,
		at:            bill.CreatedAt,
	}, DecomposeBill(bill))
	return res, err
}

func (e *Engine) AggregateCashTransaction(ctx context.Context, txID string, cashTx domain.CashTransaction) (Result, error) {
	log := e.log.WithFields(logrus.Fields{"doc_id": txID, "kind": "cash_transaction"})
	if cashTx.Status != domain.StatusCompleted {
		return Result{Skipped: true, Reason: "status " + cashTx.Status}, nil
	}
	if cashTx.Amount == 0 {
		return Result{Skipped: true, Reason: "zero amount"}, nil
	}
	if err := e.validate.Struct(cashTx); err != nil {
		log.WithError(err).Info("cash transaction missing required fields, skipping")
		return Result{Skipped: true, Reason: "missing required fields"}, nil
	}

	ctx, span := e.tracer.Start(ctx, "aggregate.cash_transaction", trace.WithAttributes(
		attribute.String("doc.id", txID),
		attribute.String("store.id", cashTx.StoreID),
	))
	defer span.End()

	return e.run(ctx, span, log, source{
		collection:    store.CollectionCashTransactions,
		id:            txID,
		storeID:       cashTx.StoreID,
		userID:        cashTx.UserID,
		userName:      cashTx.User,
		clientShiftID: cashTx.ShiftID,
		at:            cashTx.Date,
	}, DecomposeCashTransaction(cashTx))
}

func (e *Engine) run(ctx context.Context, span trace.Span, log logrus.FieldLogger, src source, delta Delta) (Result, error) {
	day := e.dates.Resolve(ctx, src.storeID, src.at)
	reportID := store.ReportID(src.storeID, day.Key)
	log = log.WithFields(logrus.Fields{"store_id": src.storeID, "report_date": day.Key})
	span.SetAttributes(attribute.String("report.date", day.Key))

	var res Result
	err := e.repo.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		res = Result{ReportID: reportID, ReportDateKey: day.Key}

		resolved, err := e.resolveShift(ctx, tx, shiftRequest{
			StoreID:       src.storeID,
			UserID:        src.userID,
			UserName:      src.userName,
			ClientShiftID: src.clientShiftID,
			Day:           day,
		}, log)
		if err != nil {
			return fmt.Errorf("resolve shift: %w", err)
		}

		report, err := tx.GetReport(ctx, reportID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("read report: %w", err)
		}

		shift := resolved.Shift
		res.ShiftID = shift.ID
		res.NewShift = resolved.IsNew

		if resolved.IsNew {
			if err := tx.CreateShift(ctx, shift); err != nil {
				return fmt.Errorf("create shift: %w", err)
			}
		}

		if report == nil {
			res.NewReport = true
			if err := tx.SetReport(ctx, reportID, newReportDocument(src.storeID, day, shift, delta)); err != nil {
				return fmt.Errorf("create report: %w", err)
			}
		} else if err := tx.UpdateReport(ctx, reportID, reportUpdates(report, shift, delta)); err != nil {
			return fmt.Errorf("update report: %w", err)
		}

		return tx.PatchDocument(ctx, src.collection, src.id, map[string]any{
			"reportDateKey": day.Key,
			"shiftId":       shift.ID,
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	span.SetAttributes(attribute.String("shift.id", res.ShiftID), attribute.Bool("shift.new", res.NewShift))
	log.WithFields(logrus.Fields{"shift_id": res.ShiftID, "new_shift": res.NewShift, "new_report": res.NewReport}).Info("aggregated")
	return res, nil
}
