package engine

import (
	"context"
	"math"
	"sync"
)

// DefaultUsageBatchSeconds is the minimum usage delta committed to the store
// mid-broadcast. Batching bounds write frequency; the final flush at teardown
// commits whatever remains.
const DefaultUsageBatchSeconds = 5

// UsageStore persists accumulated broadcast seconds. AddUsage must be atomic
// per user (a DB-level increment or an equivalent single-writer guarantee) and
// returns the user's new total for the current day.
type UsageStore interface {
	AddUsage(ctx context.Context, userID string, seconds int64) (int64, error)
}

// QuotaMeter tracks one session's elapsed broadcast time against a user's
// daily allowance. Progress reports carry a monotonically increasing media
// timemark; the meter commits batched deltas to the store and reports when
// the allowance is exhausted. A limit of zero disables enforcement.
type QuotaMeter struct {
	store        UsageStore
	userID       string
	limitSeconds int64
	batchSeconds int64

	mu         sync.Mutex
	checkpoint float64
	elapsed    float64
	lastTotal  int64
}

// NewQuotaMeter prepares a meter seeded with the user's current usage total so
// Remaining is accurate before the first commit.
func NewQuotaMeter(store UsageStore, userID string, currentUsage, limitSeconds, batchSeconds int64) *QuotaMeter {
	if batchSeconds <= 0 {
		batchSeconds = DefaultUsageBatchSeconds
	}
	return &QuotaMeter{
		store:        store,
		userID:       userID,
		limitSeconds: limitSeconds,
		batchSeconds: batchSeconds,
		lastTotal:    currentUsage,
	}
}

// Observe records a progress report. It commits floor(elapsed-checkpoint)
// seconds once the delta reaches the batch threshold and reports whether the
// daily allowance is now exhausted.
func (m *QuotaMeter) Observe(ctx context.Context, elapsedSeconds float64) (exceeded bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elapsedSeconds > m.elapsed {
		m.elapsed = elapsedSeconds
	}
	delta := int64(math.Floor(m.elapsed - m.checkpoint))
	if delta < m.batchSeconds {
		return m.exceededLocked(), nil
	}
	return m.commitLocked(ctx, delta)
}

// Flush commits any un-batched remainder. Call once at session teardown so
// accumulated usage lands within one batch threshold of wall-clock runtime.
func (m *QuotaMeter) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remainder := int64(math.Floor(m.elapsed - m.checkpoint))
	if remainder <= 0 {
		return nil
	}
	_, err := m.commitLocked(ctx, remainder)
	return err
}

// Remaining reports how many seconds of allowance are left, based on the most
// recent committed total. Unlimited meters report -1.
func (m *QuotaMeter) Remaining() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limitSeconds <= 0 {
		return -1
	}
	remaining := m.limitSeconds - m.lastTotal
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *QuotaMeter) commitLocked(ctx context.Context, delta int64) (bool, error) {
	total, err := m.store.AddUsage(ctx, m.userID, delta)
	if err != nil {
		return m.exceededLocked(), err
	}
	m.checkpoint += float64(delta)
	m.lastTotal = total
	return m.exceededLocked(), nil
}

func (m *QuotaMeter) exceededLocked() bool {
	return m.limitSeconds > 0 && m.lastTotal >= m.limitSeconds
}
