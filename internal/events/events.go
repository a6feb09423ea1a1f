// Package events routes document-store change events to their handlers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"fourcash/backend/internal/domain"
)

const (
	KindBillCreated            = "bill.created"
	KindBillWritten            = "bill.written"
	KindCashTransactionCreated = "cash_transaction.created"
)

var ErrMalformed = errors.New("malformed event")

// Envelope is one change notification. Before is empty for creations, After
// is empty for deletions.
type Envelope struct {
	Kind       string          `json:"kind"`
	DocumentID string          `json:"documentId"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
}

type Handler interface {
	OnBillCreated(ctx context.Context, billID string, bill domain.Bill)
	OnBillWritten(ctx context.Context, billID string, before, after *domain.Bill)
	OnCashTransactionCreated(ctx context.Context, txID string, tx domain.CashTransaction)
}

type Router struct {
	handler Handler
	log     logrus.FieldLogger
}

func NewRouter(handler Handler, log logrus.FieldLogger) *Router {
	return &Router{handler: handler, log: log}
}

// Dispatch only fails for envelopes it cannot decode. Handler failures are
// the handler's to log.
func (r *Router) Dispatch(ctx context.Context, env Envelope) error {
	if env.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrMalformed)
	}

	switch env.Kind {
	case KindBillCreated:
		var bill domain.Bill
		if err := decode(env.After, &bill); err != nil {
			return err
		}
		r.handler.OnBillCreated(ctx, env.DocumentID, bill)
	case KindBillWritten:
		var before, after *domain.Bill
		if len(env.Before) > 0 {
			before = &domain.Bill{}
			if err := decode(env.Before, before); err != nil {
				return err
			}
		}
		if len(env.After) > 0 {
			after = &domain.Bill{}
			if err := decode(env.After, after); err != nil {
				return err
			}
		}
		r.handler.OnBillWritten(ctx, env.DocumentID, before, after)
	case KindCashTransactionCreated:
		var tx domain.CashTransaction
		if err := decode(env.After, &tx); err != nil {
			return err
		}
		r.handler.OnCashTransactionCreated(ctx, env.DocumentID, tx)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
	return nil
}

func decode(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty document", ErrMalformed)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// DispatchPayload decodes a raw envelope and dispatches it.
func (r *Router) DispatchPayload(ctx context.Context, data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r.Dispatch(ctx, env)
}

// Subscriber pulls change events from a Pub/Sub subscription. Every message
// is acked: handlers never surface retryable errors and a malformed message
// would only be redelivered forever.
type Subscriber struct {
	sub    *pubsub.Subscription
	router *Router
	log    logrus.FieldLogger
}

func NewSubscriber(sub *pubsub.Subscription, router *Router, log logrus.FieldLogger) *Subscriber {
	return &Subscriber{sub: sub, router: router, log: log}
}

func (s *Subscriber) Run(ctx context.Context) error {
	return s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		if err := s.router.DispatchPayload(ctx, msg.Data); err != nil {
			s.log.WithError(err).WithField("message_id", msg.ID).Error("drop change event")
		}
	})
}
