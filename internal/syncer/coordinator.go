// Package syncer drains locally stored scans to the diagnosis service
// whenever the device comes online.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/raysh454/cropscan/internal/connectivity"
	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"
)

// Store is the slice of the scan store a pass needs.
type Store interface {
	GetUnsyncedScans(ctx context.Context) ([]*model.ScanRecord, error)
	MarkAsSynced(ctx context.Context, id int64) error
}

// Uploader delivers one scan to the remote service. Any error leaves the
// scan unsynced for a later pass.
type Uploader interface {
	UploadScan(ctx context.Context, rec *model.ScanRecord) error
}

var ErrAlreadyStarted = errors.New("syncer: coordinator already started")

// Coordinator runs sync passes. At most one pass is active at any time;
// a trigger that arrives while a pass is running is dropped.
type Coordinator struct {
	store    Store
	uploader Uploader
	observer connectivity.Observer
	logger   logging.Logger

	syncing atomic.Bool
	passes  sync.WaitGroup

	mu      sync.Mutex
	sub     connectivity.Subscription
	stopped bool
	baseCtx context.Context
	last    *PassReport

	subsMu  sync.Mutex
	nextSub uint64
	subs    map[uint64]chan Event
}

func NewCoordinator(store Store, uploader Uploader, observer connectivity.Observer, logger logging.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("syncer: nil store")
	}
	if uploader == nil {
		return nil, errors.New("syncer: nil uploader")
	}
	if logger == nil {
		return nil, errors.New("syncer: nil logger")
	}
	return &Coordinator{
		store:    store,
		uploader: uploader,
		observer: observer,
		logger:   logger.With(logging.Field{Key: "component", Value: "syncer"}),
		baseCtx:  context.Background(),
		subs:     make(map[uint64]chan Event),
	}, nil
}

// Start subscribes to connectivity events and then checks connectivity
// once, starting a pass if the device is already online. Passes started
// from here keep ctx's values but not its cancellation.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.observer == nil {
		return errors.New("syncer: no connectivity observer")
	}

	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.baseCtx = context.WithoutCancel(ctx)
	c.stopped = false
	c.sub = c.observer.Subscribe(c.onConnectivity)
	c.mu.Unlock()

	c.logger.Info("sync coordinator started")

	st, err := c.observer.Current(ctx)
	if err != nil {
		c.logger.Warn("initial connectivity check failed", logging.Err(err))
		return nil
	}
	if st.Online() {
		c.trigger(TriggerStartup)
	}
	return nil
}

// Stop releases the connectivity subscription and refuses further
// background triggers, including events already being delivered. A pass
// already in flight runs to completion; use Wait to block on it.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.stopped = true
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		c.logger.Info("sync coordinator stopped")
	}
}

// Wait blocks until every background pass has finished.
func (c *Coordinator) Wait() {
	c.passes.Wait()
}

// SyncNow runs a pass on the calling goroutine. It returns false without
// doing anything when a pass is already running.
func (c *Coordinator) SyncNow(ctx context.Context) (*PassReport, bool) {
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Debug("sync trigger dropped, pass in progress", logging.Field{Key: "trigger", Value: string(TriggerManual)})
		return nil, false
	}
	c.passes.Add(1)
	defer c.passes.Done()
	return c.runPass(context.WithoutCancel(ctx), TriggerManual), true
}

// TriggerNow starts a manual pass in the background. It returns false when
// a pass is already running.
func (c *Coordinator) TriggerNow() bool {
	return c.trigger(TriggerManual)
}

// IsSyncing reports whether a pass is running.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// LastReport returns a copy of the most recent finished pass, or nil.
func (c *Coordinator) LastReport() *PassReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	r := *c.last
	r.FailedIDs = append([]int64(nil), c.last.FailedIDs...)
	return &r
}

func (c *Coordinator) onConnectivity(st connectivity.State) {
	if !st.Online() {
		c.logger.Debug("connectivity lost, waiting",
			logging.Field{Key: "connected", Value: st.IsConnected},
			logging.Field{Key: "reachable", Value: st.IsInternetReachable})
		return
	}
	c.trigger(TriggerConnectivity)
}

// trigger starts a background pass unless one is already running or the
// coordinator has been stopped. The pass is registered with the WaitGroup
// under c.mu, so once Stop returns no new pass can slip past Wait.
func (c *Coordinator) trigger(t Trigger) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("sync trigger dropped, coordinator stopped", logging.Field{Key: "trigger", Value: string(t)})
		return false
	}
	if !c.syncing.CompareAndSwap(false, true) {
		c.mu.Unlock()
		c.logger.Debug("sync trigger dropped, pass in progress", logging.Field{Key: "trigger", Value: string(t)})
		return false
	}
	ctx := c.baseCtx
	c.passes.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.passes.Done()
		c.runPass(ctx, t)
	}()
	return true
}

// runPass drains one snapshot of unsynced scans. The caller must already
// hold the syncing flag; runPass releases it.
func (c *Coordinator) runPass(ctx context.Context, t Trigger) *PassReport {
	report := &PassReport{
		ID:        uuid.NewString(),
		Trigger:   t,
		StartedAt: time.Now().UTC(),
	}
	logger := c.logger.With(logging.Field{Key: "pass_id", Value: report.ID})
	c.emit(Event{PassID: report.ID, Type: EventPassStarted})

	recs, err := c.store.GetUnsyncedScans(ctx)
	if err != nil {
		report.Error = err.Error()
		logger.Error("failed to load unsynced scans", logging.Err(err))
		return c.finish(logger, report)
	}
	report.Total = len(recs)
	logger.Info("sync pass started",
		logging.Field{Key: "trigger", Value: string(t)},
		logging.Field{Key: "pending", Value: len(recs)})

	for _, rec := range recs {
		report.Attempted++

		if err := c.uploader.UploadScan(ctx, rec); err != nil {
			report.fail(rec.ID)
			logger.Warn("scan upload failed",
				logging.Field{Key: "scan_id", Value: rec.ID},
				logging.Err(err))
			c.emit(Event{PassID: report.ID, Type: EventScanFailed, ScanID: rec.ID, Error: err.Error(), Processed: report.Attempted, Total: report.Total})
			continue
		}

		if err := c.store.MarkAsSynced(ctx, rec.ID); err != nil {
			report.fail(rec.ID)
			logger.Error("failed to mark scan synced",
				logging.Field{Key: "scan_id", Value: rec.ID},
				logging.Err(err))
			c.emit(Event{PassID: report.ID, Type: EventScanFailed, ScanID: rec.ID, Error: err.Error(), Processed: report.Attempted, Total: report.Total})
			continue
		}

		report.Synced++
		logger.Debug("scan synced", logging.Field{Key: "scan_id", Value: rec.ID})
		c.emit(Event{PassID: report.ID, Type: EventScanSynced, ScanID: rec.ID, Processed: report.Attempted, Total: report.Total})
	}

	return c.finish(logger, report)
}

func (c *Coordinator) finish(logger logging.Logger, report *PassReport) *PassReport {
	report.EndedAt = time.Now().UTC()

	c.mu.Lock()
	c.last = report
	c.mu.Unlock()

	c.syncing.Store(false)

	logger.Info("sync pass finished",
		logging.Field{Key: "synced", Value: report.Synced},
		logging.Field{Key: "failed", Value: report.Failed},
		logging.Field{Key: "duration_ms", Value: report.EndedAt.Sub(report.StartedAt).Milliseconds()})

	final := *report
	c.emit(Event{PassID: report.ID, Type: EventPassFinished, Processed: report.Attempted, Total: report.Total, Report: &final})
	return report
}
