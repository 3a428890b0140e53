package syncer

import "time"

type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerConnectivity Trigger = "connectivity"
	TriggerManual       Trigger = "manual"
)

type EventType string

const (
	EventPassStarted  EventType = "pass_started"
	EventScanSynced   EventType = "scan_synced"
	EventScanFailed   EventType = "scan_failed"
	EventPassFinished EventType = "pass_finished"
)

type Event struct {
	PassID string    `json:"pass_id"`
	Type   EventType `json:"type"`

	ScanID int64  `json:"scan_id,omitempty"`
	Error  string `json:"error,omitempty"`

	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`

	// Set on pass_finished only.
	Report *PassReport `json:"report,omitempty"`
}

// PassReport summarizes one sync pass.
type PassReport struct {
	ID        string    `json:"id"`
	Trigger   Trigger   `json:"trigger"`
	Total     int       `json:"total"`
	Attempted int       `json:"attempted"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	FailedIDs []int64   `json:"failed_ids,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

func (r *PassReport) fail(id int64) {
	r.Failed++
	r.FailedIDs = append(r.FailedIDs, id)
}

const defaultEventBuffer = 16

// Subscribe returns a channel of pass events and a function that ends the
// subscription and closes the channel. Events are dropped for subscribers
// whose buffer is full.
func (c *Coordinator) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)

	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = ch
	c.subsMu.Unlock()

	var closed bool
	cancel := func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if closed {
			return
		}
		closed = true
		delete(c.subs, id)
		close(ch)
	}
	return ch, cancel
}

func (c *Coordinator) emit(ev Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		// Non-blocking send; drop if buffer is full.
		select {
		case ch <- ev:
		default:
		}
	}
}
