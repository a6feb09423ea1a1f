package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"fourcash/backend/internal/aggregate"
	"fourcash/backend/internal/apperr"
	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/notify"
	"fourcash/backend/internal/phone"
	"fourcash/backend/internal/reportdate"
	"fourcash/backend/internal/store"
	"fourcash/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Aggregator interface {
	AggregateBill(ctx context.Context, billID string, bill domain.Bill) (aggregate.Result, error)
	AggregateCashTransaction(ctx context.Context, txID string, tx domain.CashTransaction) (aggregate.Result, error)
}

type Service struct {
	repo       store.Repository
	aggregator Aggregator
	dates      aggregate.DateResolver
	notifier   notify.Sink
	log        logrus.FieldLogger
	validate   *validator.Validate
	now        func() time.Time
}

func New(repo store.Repository, aggregator Aggregator, dates aggregate.DateResolver, notifier notify.Sink, log logrus.FieldLogger) *Service {
	return &Service{
		repo:       repo,
		aggregator: aggregator,
		dates:      dates,
		notifier:   notifier,
		log:        log,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// OnBillCreated aggregates a newly created bill. Failures are logged with
// the bill id and never returned; redelivery of the event is the retry.
func (s *Service) OnBillCreated(ctx context.Context, billID string, bill domain.Bill) {
	log := s.log.WithField("doc_id", billID)
	defer s.recoverPanic(log, "bill created")

	if _, err := s.aggregator.AggregateBill(ctx, billID, bill); err != nil {
		log.WithError(err).Error("aggregate bill failed")
	}
}

func (s *Service) OnCashTransactionCreated(ctx context.Context, txID string, tx domain.CashTransaction) {
	log := s.log.WithField("doc_id", txID)
	defer s.recoverPanic(log, "cash transaction created")

	if _, err := s.aggregator.AggregateCashTransaction(ctx, txID, tx); err != nil {
		log.WithError(err).Error("aggregate cash transaction failed")
	}
}

// OnBillWritten notifies the store owners, except the bill's creator, when a
// bill becomes completed.
func (s *Service) OnBillWritten(ctx context.Context, billID string, before, after *domain.Bill) {
	log := s.log.WithField("doc_id", billID)
	defer s.recoverPanic(log, "bill written")

	if after == nil || after.Status != domain.StatusCompleted {
		return
	}
	if before != nil && before.Status == domain.StatusCompleted {
		return
	}
	if after.StoreID == "" {
		return
	}

	owners, err := s.repo.ListUsers(ctx, domain.UserFilter{Role: domain.RoleOwner, StoreID: after.StoreID})
	if err != nil {
		log.WithError(err).Error("list store owners failed")
		return
	}
	var tokens []string
	for _, owner := range owners {
		if owner.UID == after.CreatedByUID {
			continue
		}
		tokens = append(tokens, owner.FCMTokens...)
	}

	notify.Dispatch(ctx, s.notifier, log, tokens, newBillMessage(billID, *after))
}

var vndPrinter = message.NewPrinter(language.Vietnamese)

func newBillMessage(billID string, bill domain.Bill) domain.PushMessage {
	creator := bill.CreatedByName
	if creator == "" {
		creator = "Nhân viên"
	}
	return domain.PushMessage{
		Title:   "Hóa đơn mới",
		Body:    fmt.Sprintf("%s vừa hoàn tất hóa đơn %s đ", creator, vndPrinter.Sprintf("%d", int64(bill.TotalPayable))),
		Android: domain.AndroidHints{Priority: "high", ChannelID: "bills"},
		APNS:    domain.APNSHints{Sound: "default"},
		Data: map[string]string{
			"type":    "new_bill",
			"billId":  billID,
			"storeId": bill.StoreID,
		},
	}
}

func (s *Service) recoverPanic(log logrus.FieldLogger, event string) {
	if r := recover(); r != nil {
		log.WithField("panic", r).Errorf("%s handler panicked", event)
	}
}

// CreateBill stores a bill submitted over HTTP and runs the creation and
// write handlers in-process. The returned bill carries the resolved report
// day and shift when it was aggregated.
func (s *Service) CreateBill(ctx context.Context, bill domain.Bill) (domain.Bill, error) {
	if err := s.prepareSource(ctx, &bill.StoreID, &bill.CreatedByUID, &bill.CreatedByName); err != nil {
		return domain.Bill{}, err
	}
	if bill.ID == "" {
		bill.ID = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = s.now().UTC()
	}
	if bill.Status == "" {
		bill.Status = domain.StatusCompleted
	}
	bill.ReportDateKey = ""

	if err := s.repo.CreateBill(ctx, bill); err != nil {
		return domain.Bill{}, mapStoreError(err)
	}
	s.OnBillCreated(ctx, bill.ID, bill)
	s.OnBillWritten(ctx, bill.ID, nil, &bill)

	stored, err := s.repo.GetBill(ctx, bill.ID)
	if err != nil {
		return bill, nil
	}
	return *stored, nil
}

func (s *Service) CreateCashTransaction(ctx context.Context, tx domain.CashTransaction) (domain.CashTransaction, error) {
	if err := s.prepareSource(ctx, &tx.StoreID, &tx.UserID, &tx.User); err != nil {
		return domain.CashTransaction{}, err
	}
	if tx.Type != domain.CashTransactionRevenue && tx.Type != domain.CashTransactionExpense {
		return domain.CashTransaction{}, apperr.New(apperr.InvalidArgument, "type must be revenue or expense")
	}
	if tx.ID == "" {
		tx.ID = xid.New("cash")
	}
	if tx.Date.IsZero() {
		tx.Date = s.now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.StatusCompleted
	}
	tx.ReportDateKey = ""

	if err := s.repo.CreateCashTransaction(ctx, tx); err != nil {
		return domain.CashTransaction{}, mapStoreError(err)
	}
	s.OnCashTransactionCreated(ctx, tx.ID, tx)

	stored, err := s.repo.GetCashTransaction(ctx, tx.ID)
	if err != nil {
		return tx, nil
	}
	return *stored, nil
}

// prepareSource fills identity fields from the actor and refuses writes to
// another store. Only owners may record a document under another user.
func (s *Service) prepareSource(ctx context.Context, storeID, uid, name *string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return apperr.New(apperr.Unauthenticated, "login required")
	}
	if *storeID == "" {
		*storeID = actor.StoreID
	}
	if *storeID != actor.StoreID {
		return apperr.New(apperr.PermissionDenied, "store mismatch")
	}
	if actor.Role != domain.RoleOwner {
		if *uid != "" && *uid != actor.UID {
			return apperr.New(apperr.PermissionDenied, "cannot record for another user")
		}
		*uid = actor.UID
		if actor.DisplayName != "" {
			*name = actor.DisplayName
		}
	}
	if *uid == "" {
		*uid = actor.UID
	}
	if strings.TrimSpace(*name) == "" {
		*name = actor.DisplayName
	}
	return nil
}

// DailyReport returns the report of a business day. An empty date means the
// business day that is current now.
func (s *Service) DailyReport(ctx context.Context, storeID string, date string) (domain.DailyReport, error) {
	if actor, ok := ActorFromContext(ctx); ok {
		if storeID == "" {
			storeID = actor.StoreID
		}
		if storeID != actor.StoreID {
			return domain.DailyReport{}, apperr.New(apperr.PermissionDenied, "store mismatch")
		}
	}
	if storeID == "" {
		return domain.DailyReport{}, apperr.New(apperr.InvalidArgument, "store_id is required")
	}

	key := strings.TrimSpace(date)
	if key == "" {
		key = s.dates.Resolve(ctx, storeID, s.now()).Key
	} else if _, err := time.Parse(reportdate.KeyLayout, key); err != nil {
		return domain.DailyReport{}, apperr.New(apperr.InvalidArgument, "date must be YYYY-MM-DD")
	}

	report, err := s.repo.GetDailyReport(ctx, store.ReportID(storeID, key))
	if errors.Is(err, store.ErrNotFound) {
		return domain.DailyReport{}, apperr.Wrap(apperr.NotFound, "no report for "+key, err)
	}
	if err != nil {
		return domain.DailyReport{}, err
	}
	return *report, nil
}

// CheckRegistration fails with already-exists when the phone number or the
// store id is taken.
func (s *Service) CheckRegistration(ctx context.Context, req domain.RegistrationCheckRequest) error {
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.StoreID = strings.TrimSpace(req.StoreID)
	if err := s.validate.Struct(req); err != nil {
		return apperr.Wrap(apperr.InvalidArgument, "phoneNumber or storeId is required", err)
	}

	if req.PhoneNumber != "" {
		normalized, err := phone.Normalize(req.PhoneNumber)
		if err != nil {
			return apperr.Wrap(apperr.InvalidArgument, "phoneNumber is not a valid phone number", err)
		}
		_, err = s.repo.FindUserByPhone(ctx, normalized)
		switch {
		case err == nil:
			return apperr.New(apperr.AlreadyExists, "phone number is already registered")
		case !errors.Is(err, store.ErrNotFound):
			return apperr.Wrap(apperr.Internal, "check phone number", err)
		}
	}
	if req.StoreID != "" {
		users, err := s.repo.ListUsers(ctx, domain.UserFilter{StoreID: req.StoreID})
		if err != nil {
			return apperr.Wrap(apperr.Internal, "check store id", err)
		}
		if len(users) > 0 {
			return apperr.New(apperr.AlreadyExists, "store id is already taken")
		}
	}
	return nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrAlreadyExists):
		return apperr.Wrap(apperr.AlreadyExists, "document already exists", err)
	case errors.Is(err, store.ErrInvalidDocument):
		return apperr.Wrap(apperr.InvalidArgument, "invalid document", err)
	default:
		return err
	}
}
