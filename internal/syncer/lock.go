package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/models"
	"github.com/leaselab/image-sync/internal/objectstore"
)

// LeaseKey is the destination object holding the cross-process run lease
const LeaseKey = "_sync/lease.json"

const (
	metaLeaseOwner   = "x-lease-owner"
	metaLeaseExpires = "x-lease-expires"
)

// runLock serializes runs. The mutex guards this process; when ttl > 0 a
// lease object in the destination store guards against other processes.
// The lease is best effort: the store offers no conditional put.
type runLock struct {
	mu      sync.Mutex
	store   objectstore.Store
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

type lease struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

// acquire takes the lock for owner or fails with ErrRunInProgress.
// The returned function releases it.
func (l *runLock) acquire(ctx context.Context, owner string) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	if l.ttl <= 0 || l.store == nil {
		return l.mu.Unlock, nil
	}

	current, err := l.head(ctx)
	switch {
	case err == nil:
		holder := current.Custom[metaLeaseOwner]
		expires, perr := time.Parse(time.RFC3339Nano, current.Custom[metaLeaseExpires])
		if holder != "" && holder != owner && perr == nil && l.now().Before(expires) {
			l.mu.Unlock()
			return nil, errors.Errorf("%w: lease held by %s until %s", ErrRunInProgress, holder, expires.Format(time.RFC3339))
		}
	case errors.Is(err, objectstore.ErrNotFound):
	default:
		l.mu.Unlock()
		return nil, errors.Errorf("failed to read run lease: %w", err)
	}

	if err := l.write(ctx, owner, l.now().Add(l.ttl)); err != nil {
		l.mu.Unlock()
		return nil, err
	}

	return func() {
		// an expiry in the past frees the lease for the next run
		if err := l.write(context.WithoutCancel(ctx), owner, l.now().Add(-time.Second)); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("Failed to release run lease")
		}
		l.mu.Unlock()
	}, nil
}

func (l *runLock) head(ctx context.Context) (*models.ObjectMeta, error) {
	ctx, cancel := l.callContext(ctx)
	defer cancel()
	return l.store.Head(ctx, LeaseKey)
}

func (l *runLock) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

func (l *runLock) write(ctx context.Context, owner string, expires time.Time) error {
	body, err := json.Marshal(lease{Owner: owner, Expires: expires.UTC()})
	if err != nil {
		return errors.WithStack(err)
	}

	ctx, cancel := l.callContext(ctx)
	defer cancel()

	err = l.store.Put(ctx, LeaseKey, bytes.NewReader(body), int64(len(body)), "application/json", map[string]string{
		metaLeaseOwner:   owner,
		metaLeaseExpires: expires.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return errors.Errorf("failed to write run lease: %w", err)
	}
	return nil
}
