package workflow

import (
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hotel_backend/models"
)

func TestResolveDuplicateKey(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		status  models.IdempotencyStatus
		updated time.Time
		want    idempotencyAction
	}{
		{"succeeded skips", models.IdempotencyStatusSucceeded, now, idempotencySkip},
		{"old success still skips", models.IdempotencyStatusSucceeded, now.Add(-24 * time.Hour), idempotencySkip},
		{"fresh claim retries later", models.IdempotencyStatusStarted, now.Add(-time.Second), idempotencyRetryLater},
		{"claim just under cutoff retries later", models.IdempotencyStatusStarted, now.Add(-staleClaimAge + time.Second), idempotencyRetryLater},
		{"claim at cutoff is reclaimed", models.IdempotencyStatusStarted, now.Add(-staleClaimAge), idempotencyReclaim},
		{"crashed worker claim is reclaimed", models.IdempotencyStatusStarted, now.Add(-time.Hour), idempotencyReclaim},
		{"failed attempt is reclaimed", models.IdempotencyStatusFailed, now, idempotencyReclaim},
	}
	for _, tc := range cases {
		existing := models.IdempotencyKey{Status: tc.status, UpdatedAt: tc.updated}
		if got := resolveDuplicateKey(existing, now); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.name, got, tc.want)
		}
	}
}

// TestRedeliveryConvergesToSingleExecution races duplicate deliveries of one
// message against an insert-once row, resolving losers through
// resolveDuplicateKey the way BeginIdempotency does. However the goroutines
// interleave, exactly one must execute and the rest must end in a skip.
func TestRedeliveryConvergesToSingleExecution(t *testing.T) {
	var (
		mu        sync.Mutex
		row       *models.IdempotencyKey
		execCount int
	)

	deliver := func() {
		for {
			mu.Lock()
			if row == nil {
				// Unique-key insert won the claim.
				row = &models.IdempotencyKey{
					Status:    models.IdempotencyStatusStarted,
					UpdatedAt: time.Now(),
				}
				mu.Unlock()
				// Posting work runs while the claim is visible as STARTED,
				// so concurrent deliveries hit the retry-later branch.
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				execCount++
				row.Status = models.IdempotencyStatusSucceeded
				mu.Unlock()
				return
			}
			existing := *row
			mu.Unlock()

			switch resolveDuplicateKey(existing, time.Now()) {
			case idempotencySkip:
				return
			case idempotencyRetryLater:
				// Broker redelivery after backoff.
				time.Sleep(time.Millisecond)
			case idempotencyReclaim:
				t.Errorf("fresh claim must never be reclaimed")
				return
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			deliver()
		}()
	}
	wg.Wait()

	if execCount != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", execCount)
	}
}
