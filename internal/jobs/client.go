// Package jobs tracks model runs on the LESNet server: it submits a run,
// polls its status on a fixed interval and reports progress, failures and
// completion to the view.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/appstate"
	"lesnet-viewer/internal/common"
	"lesnet-viewer/internal/lakes"
)

// ErrSuperseded is returned by Submit when a newer submission or a cancel
// replaced it before the server replied.
var ErrSuperseded = errors.New("submission superseded")

// ValidationError reports a missing or malformed form field. No request is
// made when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Server is the part of the model server a run needs. *api.Client
// implements it.
type Server interface {
	RunModel(ctx context.Context, lake, date string) (*api.RunResponse, error)
	ModelStatus(ctx context.Context, runID string) (*api.StatusResponse, error)
}

// View renders job progress.
type View interface {
	RenderStatus(s Status)
	ShowNotice(n Notice)
	HideNotice()
	QueueNotification(position int)
}

// Options tune polling.
type Options struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	// MaxFailures consecutive poll failures end tracking of a run
	MaxFailures int
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		PollInterval: 3 * time.Second,
		SettleDelay:  time.Second,
		MaxFailures:  3,
	}
}

// Client runs at most one tracked job at a time. The active run id lives in
// appstate.State and this client is its only writer.
type Client struct {
	server Server
	state  *appstate.State
	view   View
	opts   Options
	log    logrus.FieldLogger

	onRefresh func()
	onLoad    func(folder string)

	mu        sync.Mutex
	seq       uint64
	stopPoll  context.CancelFunc
	settle    *time.Timer
	settleSeq uint64
	closed    bool
	wg        sync.WaitGroup
	current   State
}

// NewClient creates a job client.
func NewClient(server Server, state *appstate.State, view View, opts Options, log logrus.FieldLogger) *Client {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = def.SettleDelay
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	return &Client{
		server:  server,
		state:   state,
		view:    view,
		opts:    opts,
		log:     log,
		current: StateIdle,
	}
}

// OnCompleted registers the completion hooks: refresh runs as soon as a run
// completes, load runs with the produced folder after the settle delay.
func (c *Client) OnCompleted(refresh func(), load func(folder string)) {
	c.mu.Lock()
	c.onRefresh = refresh
	c.onLoad = load
	c.mu.Unlock()
}

// State returns the lifecycle state of the tracked run.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func validate(lake, date string) (lakes.Lake, error) {
	if lake == "" || date == "" {
		field := "lake"
		if lake != "" {
			field = "date"
		}
		return lakes.Lake{}, &ValidationError{Field: field, Reason: "required"}
	}
	l, ok := lakes.ByID(lake)
	if !ok {
		return lakes.Lake{}, &ValidationError{Field: "lake", Reason: fmt.Sprintf("unknown lake %q", lake)}
	}
	if !common.ValidateRunDate(date) {
		return lakes.Lake{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD HH:00", date)}
	}
	return l, nil
}

// Submit starts a run for lake at date ("YYYY-MM-DD HH:00"). Any tracked run
// is dropped first. On success polling starts and the run id is returned.
func (c *Client) Submit(ctx context.Context, lake, date string) (string, error) {
	l, err := validate(lake, date)
	if err != nil {
		message := msgRequired
		var ve *ValidationError
		if errors.As(err, &ve) && ve.Reason != "required" {
			message = "Invalid " + ve.Field + ": " + ve.Reason
		}
		c.view.ShowNotice(Notice{Kind: NoticeValidation, Message: message})
		return "", err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrSuperseded
	}
	c.resetLocked()
	c.seq++
	seq := c.seq
	c.current = StateSubmitted
	c.view.HideNotice()
	c.view.RenderStatus(submittingStatus())
	c.mu.Unlock()

	log := c.log.WithFields(logrus.Fields{"lake": l.ID, "date": date})
	log.Info("Submitting model run")

	resp, err := c.server.RunModel(ctx, l.ID, date)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != seq || c.closed {
		return "", ErrSuperseded
	}

	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			log.WithError(err).Warn("Model run rejected")
			c.failLocked(serverNotice(se.Message))
		} else {
			log.WithError(err).Error("Failed to reach model server")
			c.failLocked(Notice{Kind: NoticeConnection, Message: msgUnreachable})
		}
		return "", fmt.Errorf("failed to submit model run: %w", err)
	}
	if !resp.Success || resp.RunID == "" {
		log.WithField("error", resp.Error).Warn("Model run rejected")
		c.failLocked(serverNotice(resp.Error))
		return "", fmt.Errorf("failed to submit model run: %s", lo.CoalesceOrEmpty(resp.Error, msgSubmitFailed))
	}

	runID := resp.RunID
	c.state.BeginRun(runID)
	if next, err := Apply(StateSubmitted, resp.Status); err == nil && !next.Terminal() {
		c.current = next
		c.view.RenderStatus(statusView(next, resp.QueuePosition))
	}
	if resp.QueuePosition != nil && *resp.QueuePosition > 0 {
		c.view.QueueNotification(*resp.QueuePosition + 1)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.stopPoll = cancel
	c.wg.Add(1)
	go c.poll(pollCtx, runID)

	log.WithFields(logrus.Fields{"run_id": runID, "status": resp.Status}).Info("Model run submitted")
	return runID, nil
}

// poll checks the run immediately and then on every tick until the run
// ends, fails too often or is superseded. Polls never overlap.
func (c *Client) poll(ctx context.Context, runID string) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		if c.pollOnce(ctx, runID, &failures) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce returns true when polling should stop.
func (c *Client) pollOnce(ctx context.Context, runID string, failures *int) bool {
	log := c.log.WithField("run_id", runID)
	resp, err := c.server.ModelStatus(ctx, runID)
	if ctx.Err() != nil {
		return true
	}

	c.mu.Lock()
	if !c.state.IsActive(runID) {
		c.mu.Unlock()
		log.Debug("Dropping status of superseded run")
		return true
	}

	if err != nil {
		*failures++
		log.WithError(err).WithField("failures", *failures).Warn("Status poll failed")
		if *failures >= c.opts.MaxFailures {
			c.failLocked(Notice{Kind: NoticeConnection, Message: msgNotResponding})
			c.mu.Unlock()
			log.Error("Model server stopped responding, giving up on run")
			return true
		}
		c.mu.Unlock()
		return false
	}
	*failures = 0

	if resp.RunID != runID {
		c.mu.Unlock()
		log.WithField("reply_run_id", resp.RunID).Debug("Dropping status of another run")
		return false
	}

	next, err := Apply(c.current, resp.Status)
	if err != nil {
		c.mu.Unlock()
		log.WithError(err).Warn("Ignoring run status")
		return false
	}
	c.current = next

	switch next {
	case StateQueued, StateProcessing:
		c.view.RenderStatus(statusView(next, resp.QueuePosition))
		c.mu.Unlock()
		return false

	case StateError:
		notice := ClassifyRunError(resp.Result)
		c.failLocked(notice)
		c.mu.Unlock()
		log.WithField("notice", notice.Message).Warn("Model run failed")
		return true
	}

	// completed
	folder := ""
	if resp.Result != nil {
		folder = resp.Result.FolderName
	}
	c.state.ClearRun()
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.view.RenderStatus(statusView(StateCompleted, nil))
	refresh := c.onRefresh
	c.scheduleSettleLocked(folder)
	c.mu.Unlock()

	log.WithField("folder", folder).Info("Model run completed")
	if refresh != nil {
		refresh()
	}
	return true
}

// scheduleSettleLocked returns the panel to idle after the settle delay and
// loads folder.
func (c *Client) scheduleSettleLocked(folder string) {
	c.settleSeq++
	seq := c.settleSeq
	load := c.onLoad
	c.settle = time.AfterFunc(c.opts.SettleDelay, func() {
		c.mu.Lock()
		if c.settleSeq != seq || c.closed {
			c.mu.Unlock()
			return
		}
		c.settle = nil
		c.current = StateIdle
		c.view.RenderStatus(idleStatus())
		c.mu.Unlock()

		if load != nil && folder != "" {
			load(folder)
		}
	})
}

// failLocked ends the tracked run with a notice and re-enables submission.
func (c *Client) failLocked(n Notice) {
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.state.ClearRun()
	c.current = StateIdle
	c.view.ShowNotice(n)
	c.view.RenderStatus(idleStatus())
}

// resetLocked stops polling and any pending settle, and forgets the active
// run.
func (c *Client) resetLocked() {
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
	c.settleSeq++
	c.state.ClearRun()
	c.current = StateIdle
}

// Cancel stops tracking the active run. The server is not contacted; the run
// keeps going there and its output shows up in the catalog.
func (c *Client) Cancel() {
	c.mu.Lock()
	c.seq++
	c.resetLocked()
	c.view.HideNotice()
	c.view.RenderStatus(idleStatus())
	c.mu.Unlock()
}

// Close stops all background work and waits for the poller to exit.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.seq++
	c.resetLocked()
	c.mu.Unlock()
	c.wg.Wait()
}
