// Package notify delivers push messages to device tokens.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"fourcash/backend/internal/domain"
)

// Sink is a best-effort multicast. Callers log failures and move on.
type Sink interface {
	SendMulticast(ctx context.Context, tokens []string, msg domain.PushMessage) error
}

// Dispatch drops blank and duplicate tokens, sends, and logs any failure.
func Dispatch(ctx context.Context, sink Sink, log logrus.FieldLogger, tokens []string, msg domain.PushMessage) {
	unique := UniqueTokens(tokens)
	if len(unique) == 0 {
		return
	}
	if err := sink.SendMulticast(ctx, unique, msg); err != nil {
		log.WithError(err).WithField("tokens", len(unique)).Warn("push notification failed")
	}
}

func UniqueTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

type LogSink struct {
	Log logrus.FieldLogger
}

func (s LogSink) SendMulticast(_ context.Context, tokens []string, msg domain.PushMessage) error {
	s.Log.WithFields(logrus.Fields{"tokens": len(tokens), "title": msg.Title}).Info("push notification (log sink)")
	return nil
}

// Envelope is the wire format published for the delivery worker.
type Envelope struct {
	Tokens  []string           `json:"tokens"`
	Message domain.PushMessage `json:"message"`
}

type PubSubSink struct {
	topic *pubsub.Topic
}

func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

func (s *PubSubSink) SendMulticast(ctx context.Context, tokens []string, msg domain.PushMessage) error {
	payload, err := json.Marshal(Envelope{Tokens: tokens, Message: msg})
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"kind": "push"},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}
