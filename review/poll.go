package review

import (
	"context"
	"errors"
	"time"

	"github.com/yhc1/talkco/api"
)

const (
	pollInterval      = 2 * time.Second
	pollFailureBudget = 3
)

// ErrPollFailed reports that a polling loop gave up after hitting the
// consecutive-failure budget.
var ErrPollFailed = errors.New("polling gave up after repeated failures")

// poll fetches a review every interval until the stop predicate holds. Each
// successful response is handed to apply before the predicate runs. The first
// fetch happens immediately, not after a delay.
//
// Transient failures are tolerated up to budget-1 consecutive times; one
// success resets the counter. The budget'th consecutive failure returns
// ErrPollFailed without another fetch. Context cancellation is a normal exit
// and returns ctx.Err().
func poll(
	ctx context.Context,
	interval time.Duration,
	fetch func(ctx context.Context) (*api.Review, error),
	apply func(*api.Review),
	stop func(*api.Review) bool,
) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		res, err := fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= pollFailureBudget {
				return ErrPollFailed
			}
		} else {
			failures = 0
			apply(res)
			if stop(res) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
