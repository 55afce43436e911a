//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"aicode-billing/internal/domain"
	"aicode-billing/internal/domain/model"
	"aicode-billing/internal/domain/ports/repository"
)

func TestSubscriptionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewSubscriptionRepo(testPool)
	tm := NewTxManager(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("should extend the active row inside a locked transaction", func(t *testing.T) {
		cleanup(t)
		s, _ := model.NewSubscription(uuid.NewString(), "user-1", "pro", "pay-1", 30, now)
		if err := repo.Save(ctx, nil, s); err != nil {
			t.Fatalf("save: %v", err)
		}

		err := tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			if err := repo.LockUser(ctx, tx, "user-1"); err != nil {
				return err
			}
			cur, err := repo.FindActiveByUserAndPlan(ctx, tx, "user-1", "pro")
			if err != nil {
				return err
			}
			cur.Extend(30, "pay-2", now)
			return repo.Save(ctx, tx, cur)
		})
		if err != nil {
			t.Fatalf("tx: %v", err)
		}

		got, err := repo.FindActiveByUserAndPlan(ctx, nil, "user-1", "pro")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !got.SubscriptionEnd.Equal(now.AddDate(0, 0, 60)) || got.LastPaymentID != "pay-2" {
			t.Errorf("unexpected row: %+v", got)
		}
	})

	t.Run("should expire ended rows", func(t *testing.T) {
		cleanup(t)
		s, _ := model.NewSubscription(uuid.NewString(), "user-1", "pro", "pay-1", 1, now.AddDate(0, 0, -2))
		_ = repo.Save(ctx, nil, s)

		n, err := repo.ExpireEnded(ctx, nil, now)
		if err != nil || n != 1 {
			t.Fatalf("expected 1 expired, got %d / %v", n, err)
		}
		if _, err := repo.FindActiveByUserAndPlan(ctx, nil, "user-1", "pro"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreditPackageRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewCreditPackageRepo(testPool)
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("should allow one grant per payment", func(t *testing.T) {
		cleanup(t)
		cp1, _ := model.NewCreditPackage(uuid.NewString(), "user-1", "basic", "pay-1", 100, 30, now)
		cp2, _ := model.NewCreditPackage(uuid.NewString(), "user-1", "basic", "pay-1", 100, 30, now)

		if err := repo.Create(ctx, nil, cp1); err != nil {
			t.Fatalf("first create: %v", err)
		}
		if err := repo.Create(ctx, nil, cp2); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		found, err := repo.FindByPaymentID(ctx, nil, "pay-1")
		if err != nil || found.ID != cp1.ID || found.CreditsRemaining != 100 {
			t.Fatalf("unexpected grant %+v / %v", found, err)
		}
		list, _ := repo.ListActiveByUser(ctx, nil, "user-1")
		if len(list) != 1 {
			t.Errorf("expected one active grant, got %d", len(list))
		}
	})
}
