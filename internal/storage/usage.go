package storage

import (
	"context"
	"fmt"

	"litecast/internal/models"
)

// Daily usage accounting. Each user carries an accumulated-seconds counter
// and the calendar date it belongs to; the first touch on a new day resets
// the counter before applying the operation. All arithmetic happens under the
// store lock, so concurrent sessions of the same user never lose increments.

// SyncUsage returns the user's usage counter for the current day, resetting
// it first when the stored counter belongs to an earlier date.
func (s *Storage) SyncUsage(userID string) (models.UsageCounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return models.UsageCounter{}, fmt.Errorf("user %s not found", userID)
	}

	today := s.today()
	if user.LastUsageReset != today {
		user.UsageSeconds = 0
		user.LastUsageReset = today
		s.data.Users[userID] = user
		if err := s.persist(); err != nil {
			return models.UsageCounter{}, err
		}
	}

	return models.UsageCounter{
		UserID:       userID,
		UsageSeconds: user.UsageSeconds,
		LastReset:    user.LastUsageReset,
	}, nil
}

// AddUsage atomically adds broadcast seconds to the user's daily counter and
// returns the new total. A counter from an earlier date is reset before the
// increment, so a broadcast running across midnight starts the new day from
// the seconds added after the boundary.
func (s *Storage) AddUsage(_ context.Context, userID string, seconds int64) (int64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("usage increment cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.data.Users[userID]
	if !ok {
		return 0, fmt.Errorf("user %s not found", userID)
	}

	previous := user
	today := s.today()
	if user.LastUsageReset != today {
		user.UsageSeconds = 0
		user.LastUsageReset = today
	}
	user.UsageSeconds += seconds
	s.data.Users[userID] = user

	// Roll back on a failed write: the caller re-commits unacknowledged
	// deltas, so keeping the increment would double-count.
	if err := s.persist(); err != nil {
		s.data.Users[userID] = previous
		return previous.UsageSeconds, err
	}
	return user.UsageSeconds, nil
}
