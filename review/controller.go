// Package review owns one review screen: polling for AI analysis, submitting
// corrections, and polling for the finalized summary.
package review

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yhc1/talkco/api"
	"github.com/yhc1/talkco/log"
)

// Backend is the slice of the transport client the controller needs.
// *api.Client satisfies it.
type Backend interface {
	FetchReview(ctx context.Context, sessionID string) (*api.Review, error)
	SubmitCorrection(ctx context.Context, sessionID string, req api.CorrectionRequest) (*api.Correction, error)
	FinalizeSession(ctx context.Context, sessionID string) (*api.FinalizeResponse, error)
}

// Snapshot is a read-only projection of the controller's state for the UI.
type Snapshot struct {
	SessionID  string
	Status     string
	Segments   []api.Segment
	Summary    *api.Summary
	Loading    bool
	Ending     bool
	Completed  bool
	LoadFailed bool
	Cancelled  bool
}

// Controller owns the review flow for one ended session. At most one polling
// loop runs at a time; Load and End each block until their loop finishes, so
// the caller drives them from a command goroutine.
type Controller struct {
	backend   Backend
	sessionID string
	interval  time.Duration

	mu         sync.Mutex
	status     string
	segments   []api.Segment
	summary    *api.Summary
	loading    bool
	ending     bool
	completed  bool
	loadFailed bool
	cancelled  bool
	cancel     context.CancelFunc
}

func NewController(backend Backend, sessionID string) *Controller {
	return &Controller{backend: backend, sessionID: sessionID, interval: pollInterval}
}

// SetPollInterval overrides the default 2 s polling cadence. Call before
// Load or End.
func (c *Controller) SetPollInterval(d time.Duration) {
	c.interval = d
}

// apply replaces the full local view. The server always returns the complete
// current state, so this is a replace, never a merge.
func (c *Controller) apply(r *api.Review) {
	c.mu.Lock()
	c.status = r.Status
	c.segments = r.Segments
	c.summary = r.Summary
	c.mu.Unlock()
}

func anyMark(r *api.Review) bool {
	for _, s := range r.Segments {
		if len(s.AIMarks) > 0 {
			return true
		}
	}
	return false
}

// statusPastAnalysis reports whether the server has moved beyond generating
// marks, so waiting any longer cannot change the segment view.
func statusPastAnalysis(status string) bool {
	switch status {
	case api.StatusCompleting, api.StatusCompleted, api.StatusEnded:
		return true
	}
	return false
}

// pollCtx installs a fresh cancellable context for one loop and returns it.
func (c *Controller) pollCtx(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return ctx
}

func (c *Controller) fetch(ctx context.Context) (*api.Review, error) {
	return c.backend.FetchReview(ctx, c.sessionID)
}

// Load polls the review endpoint until the analysis view is settled: at least
// one segment carries a mark, the segment list is empty, or the status has
// moved past analysis. It blocks until the loop ends; the loop tolerates
// transient failures up to the shared budget.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.loading || c.ending || c.completed || c.cancelled {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.loadFailed = false
	c.mu.Unlock()

	ctx = c.pollCtx(ctx)

	err := poll(ctx, c.interval, c.fetch, c.apply, func(r *api.Review) bool {
		return anyMark(r) || len(r.Segments) == 0 || statusPastAnalysis(r.Status)
	})

	c.mu.Lock()
	c.loading = false
	switch {
	case errors.Is(err, ErrPollFailed):
		c.loadFailed = true
	case errors.Is(err, context.Canceled):
		c.cancelled = true
		err = nil
	}
	segments := len(c.segments)
	marks := 0
	for _, s := range c.segments {
		marks += len(s.AIMarks)
	}
	status := c.status
	c.mu.Unlock()

	if errors.Is(err, ErrPollFailed) {
		log.PollGiveUp("load", pollFailureBudget)
		return err
	}
	log.ReviewLoaded(c.sessionID, segments, marks, status)
	return err
}

// SubmitCorrection sends one follow-up question about a segment and appends
// the answer to that segment's correction list. Best effort: a transport
// failure is logged and nothing changes, and an answer arriving for a segment
// no longer present locally is dropped without error, since the local view
// may have refreshed in the interim.
func (c *Controller) SubmitCorrection(ctx context.Context, segmentID int64, userMessage string) {
	corr, err := c.backend.SubmitCorrection(ctx, c.sessionID, api.CorrectionRequest{
		SegmentID:   segmentID,
		UserMessage: userMessage,
	})
	if err != nil {
		log.Errorf("submit correction: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.segments {
		if c.segments[i].ID == segmentID {
			c.segments[i].Corrections = append(c.segments[i].Corrections, *corr)
			return
		}
	}
}

// End finalizes the session, then polls until the server reports completed
// status with a summary present. If the finalize call itself fails the second
// loop never starts.
func (c *Controller) End(ctx context.Context) error {
	c.mu.Lock()
	if c.ending || c.completed || c.cancelled {
		c.mu.Unlock()
		return nil
	}
	c.ending = true
	c.mu.Unlock()

	if _, err := c.backend.FinalizeSession(ctx, c.sessionID); err != nil {
		c.mu.Lock()
		c.ending = false
		c.mu.Unlock()
		log.Errorf("finalize session: %v", err)
		return err
	}

	ctx = c.pollCtx(ctx)

	err := poll(ctx, c.interval, c.fetch, c.apply, func(r *api.Review) bool {
		return r.Status == api.StatusCompleted && r.Summary != nil
	})

	c.mu.Lock()
	c.ending = false
	switch {
	case err == nil:
		c.completed = true
	case errors.Is(err, context.Canceled):
		c.cancelled = true
		err = nil
	}
	c.mu.Unlock()

	if errors.Is(err, ErrPollFailed) {
		log.PollGiveUp("end", pollFailureBudget)
	}
	return err
}

// Cancel cooperatively stops whichever polling loop is running. Safe to call
// repeatedly and when no loop is active; must be called when the review
// screen is dismissed so no poll outlives it.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a copy of the current state for rendering.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	segments := make([]api.Segment, len(c.segments))
	copy(segments, c.segments)
	return Snapshot{
		SessionID:  c.sessionID,
		Status:     c.status,
		Segments:   segments,
		Summary:    c.summary,
		Loading:    c.loading,
		Ending:     c.ending,
		Completed:  c.completed,
		LoadFailed: c.loadFailed,
		Cancelled:  c.cancelled,
	}
}
