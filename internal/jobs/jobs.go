// Package jobs holds the daily sweeps: low-stock alerts and subscription expiry.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/notify"
	"fourcash/backend/internal/session"
)

const (
	defaultConcurrency = 4
	maxListedProducts  = 5
)

type Repository interface {
	ListUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserAccount, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	SetUsersActive(ctx context.Context, uids []string, active bool) error
}

type Jobs struct {
	repo        Repository
	sessions    session.Revocations
	notifier    notify.Sink
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
}

func New(repo Repository, sessions session.Revocations, notifier notify.Sink, log logrus.FieldLogger) *Jobs {
	return &Jobs{
		repo:        repo,
		sessions:    sessions,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
		concurrency: defaultConcurrency,
	}
}

// LowStockProducts keeps the products whose stock is strictly below their minimum.
func LowStockProducts(products []domain.Product) []domain.Product {
	out := make([]domain.Product, 0)
	for _, p := range products {
		if p.Stock < p.MinStock {
			out = append(out, p)
		}
	}
	return out
}

// LowStockScan alerts the owners of every store that has products under
// their minimum stock. It returns the number of stores alerted.
func (j *Jobs) LowStockScan(ctx context.Context) (int, error) {
	owners, err := j.repo.ListUsers(ctx, domain.UserFilter{Role: domain.RoleOwner})
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	tokensByStore := make(map[string][]string)
	for _, owner := range owners {
		if owner.StoreID == "" || !owner.Active {
			continue
		}
		tokensByStore[owner.StoreID] = append(tokensByStore[owner.StoreID], owner.FCMTokens...)
	}

	var (
		mu      sync.Mutex
		alerted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for storeID, tokens := range tokensByStore {
		g.Go(func() error {
			products, err := j.repo.ListProducts(gctx, storeID)
			if err != nil {
				return fmt.Errorf("list products of %s: %w", storeID, err)
			}
			low := LowStockProducts(products)
			if len(low) == 0 {
				return nil
			}
			log := j.log.WithFields(logrus.Fields{"store_id": storeID, "low_stock": len(low)})
			notify.Dispatch(gctx, j.notifier, log, tokens, lowStockMessage(storeID, low))
			log.Info("low stock alert sent")

			mu.Lock()
			alerted++
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	return alerted, err
}

func lowStockMessage(storeID string, low []domain.Product) domain.PushMessage {
	names := make([]string, 0, maxListedProducts)
	for i, p := range low {
		if i == maxListedProducts {
			break
		}
		names = append(names, p.ProductName)
	}
	body := strings.Join(names, ", ")
	if extra := len(low) - len(names); extra > 0 {
		body += fmt.Sprintf(" và %d sản phẩm khác", extra)
	}
	return domain.PushMessage{
		Title:   "Sắp hết hàng",
		Body:    body,
		Android: domain.AndroidHints{Priority: "high", ChannelID: "inventory"},
		APNS:    domain.APNSHints{Sound: "default"},
		Data: map[string]string{
			"type":    "low_stock",
			"storeId": storeID,
			"count":   fmt.Sprint(len(low)),
		},
	}
}

// SubscriptionExpiryScan deactivates every active owner whose subscription
// has ended, together with the non-owner accounts of the owner's store, and
// revokes the owner's sessions. It returns the number of owners expired.
func (j *Jobs) SubscriptionExpiryScan(ctx context.Context) (int, error) {
	now := j.now().UTC()
	owners, err := j.repo.ListUsers(ctx, domain.UserFilter{Role: domain.RoleOwner})
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	expired := 0
	for _, owner := range owners {
		if !owner.Active || owner.SubscriptionExpiryDate == nil || owner.SubscriptionExpiryDate.After(now) {
			continue
		}
		log := j.log.WithFields(logrus.Fields{"uid": owner.UID, "store_id": owner.StoreID})

		uids := []string{owner.UID}
		if owner.StoreID != "" {
			staff, err := j.repo.ListUsers(ctx, domain.UserFilter{StoreID: owner.StoreID})
			if err != nil {
				return expired, fmt.Errorf("list users of %s: %w", owner.StoreID, err)
			}
			for _, u := range staff {
				if u.Role != domain.RoleOwner {
					uids = append(uids, u.UID)
				}
			}
		}

		if err := j.repo.SetUsersActive(ctx, uids, false); err != nil {
			return expired, fmt.Errorf("deactivate %s: %w", owner.UID, err)
		}
		if err := j.sessions.Revoke(ctx, owner.UID, now); err != nil {
			log.WithError(err).Warn("revoke sessions failed")
		}
		expired++
		log.WithField("accounts", len(uids)).Info("subscription expired, accounts deactivated")
	}
	return expired, nil
}
