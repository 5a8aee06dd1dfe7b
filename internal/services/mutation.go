package services

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sjperalta/fintera-sign/internal/models"
	"github.com/sjperalta/fintera-sign/internal/repository"
	"github.com/sjperalta/fintera-sign/internal/statemachine"
)

// maxConflictAttempts bounds optimistic-concurrency retries per operation
const maxConflictAttempts = 3

// errNoChange aborts a mutation that turned out to be a no-op (idempotent
// replays, terminal states that are silently ignored).
var errNoChange = errors.New("no change")

// errAlreadySigned aborts a sign attempt on an agreement that is already signed
var errAlreadySigned = errors.New("already signed")

type loader func(ctx context.Context) (*models.Agreement, error)

// defaultNow is the service clock: UTC, microsecond precision to match what the
// database stores.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// withConflictRetry reruns op while it loses optimistic-concurrency races.
func withConflictRetry(ctx context.Context, op func(ctx context.Context) (*models.Agreement, error)) (*models.Agreement, error) {
	var result *models.Agreement
	backoff := retry.WithMaxRetries(maxConflictAttempts-1,
		retry.WithJitter(5*time.Millisecond, retry.NewConstant(10*time.Millisecond)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		a, err := op(ctx)
		if errors.Is(err, repository.ErrVersionConflict) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, translateError(err)
	}
	return result, nil
}

// updateAgreement loads the current agreement and applies mutate against its
// version, reloading on conflict.
func updateAgreement(ctx context.Context, repo repository.AgreementRepository, load loader, mutate repository.Mutation) (*models.Agreement, error) {
	return withConflictRetry(ctx, func(ctx context.Context) (*models.Agreement, error) {
		current, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return repo.Update(ctx, current.ID, current.Version, mutate)
	})
}

// expire moves a sent agreement past its deadline to expired.
func expire(ctx context.Context, a *models.Agreement, now time.Time, trigger string) (*models.AuditEntry, error) {
	if err := statemachine.NewAgreementFSM(a).Expire(ctx); err != nil {
		return nil, err
	}
	metadata := map[string]any{"trigger": trigger}
	if a.ExpiresAt != nil {
		metadata["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return models.NewAuditEntry(a.ID, models.AuditKindExpired, models.ActorSystem, now, metadata), nil
}

// withTimeout bounds ctx by d; a zero duration leaves ctx unbounded.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
