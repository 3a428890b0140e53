package connectivity_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/raysh454/cropscan/internal/connectivity"
	"github.com/raysh454/cropscan/internal/testutil"
)

var online = connectivity.State{IsConnected: true, IsInternetReachable: true, Type: "wifi"}

type recorder struct {
	mu     sync.Mutex
	states []connectivity.State
}

func (r *recorder) listen(s connectivity.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// ─── State ─────────────────────────────────────────────────────────────

func TestState_Online(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		state connectivity.State
		want  bool
	}{
		{"both", connectivity.State{IsConnected: true, IsInternetReachable: true}, true},
		{"connected only", connectivity.State{IsConnected: true}, false},
		{"reachable only", connectivity.State{IsInternetReachable: true}, false},
		{"neither", connectivity.State{}, false},
	}
	for _, tc := range cases {
		if got := tc.state.Online(); got != tc.want {
			t.Errorf("%s: Online() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

// ─── Broadcaster ───────────────────────────────────────────────────────

func TestBroadcaster_DefaultsOffline(t *testing.T) {
	t.Parallel()
	b := connectivity.NewBroadcaster()
	st, err := b.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if st.Online() {
		t.Error("expected offline before first publish")
	}
}

func TestBroadcaster_PublishDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := connectivity.NewBroadcaster()
	var r1, r2 recorder
	b.Subscribe(r1.listen)
	b.Subscribe(r2.listen)

	b.Publish(online)
	b.Publish(online)

	if r1.count() != 2 || r2.count() != 2 {
		t.Fatalf("expected both subscribers to see 2 events, got %d and %d", r1.count(), r2.count())
	}
	st, _ := b.Current(context.Background())
	if st != online {
		t.Errorf("Current = %+v, want %+v", st, online)
	}
}

func TestBroadcaster_PublishIfChangedSuppressesDuplicates(t *testing.T) {
	t.Parallel()
	b := connectivity.NewBroadcaster()
	var r recorder
	b.Subscribe(r.listen)

	if !b.PublishIfChanged(connectivity.State{}) {
		t.Error("first publish should always be delivered")
	}
	if b.PublishIfChanged(connectivity.State{}) {
		t.Error("duplicate state should be suppressed")
	}
	if !b.PublishIfChanged(online) {
		t.Error("transition should be delivered")
	}
	if r.count() != 2 {
		t.Errorf("expected 2 deliveries, got %d", r.count())
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := connectivity.NewBroadcaster()
	var r recorder
	sub := b.Subscribe(r.listen)

	b.Publish(online)
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish(connectivity.State{})

	if r.count() != 1 {
		t.Errorf("expected 1 delivery, got %d", r.count())
	}
	if b.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", b.Subscribers())
	}
}

// ─── Prober ────────────────────────────────────────────────────────────

func TestNewProber_Validation(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{}
	lg := &testutil.DummyLogger{}

	if _, err := connectivity.NewProber(nil, "http://x", 0, 0, lg); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := connectivity.NewProber(wc, "", 0, 0, lg); err == nil {
		t.Error("expected error for empty url")
	}
	if _, err := connectivity.NewProber(wc, "http://x", 0, 0, nil); err == nil {
		t.Error("expected error for nil logger")
	}
}

func TestProber_ProbeReflectsTransport(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{StatusCode: 503}
	p, err := connectivity.NewProber(wc, "http://api.test/health", time.Second, time.Second, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}

	// Any HTTP answer, even an error status, means the network is up.
	if !p.Probe(context.Background()).Online() {
		t.Error("expected online when server responds")
	}

	wc.SetFail(true)
	if p.Probe(context.Background()).Online() {
		t.Error("expected offline on transport error")
	}

	for _, req := range wc.Requests {
		if req.Method != http.MethodGet || req.URL != "http://api.test/health" {
			t.Errorf("unexpected reachability request %s %s", req.Method, req.URL)
		}
	}
}

func TestProber_CurrentDoesNotNotify(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{}
	p, err := connectivity.NewProber(wc, "http://api.test/health", time.Second, time.Second, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	var r recorder
	p.Subscribe(r.listen)

	st, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !st.Online() {
		t.Fatal("expected online")
	}
	if r.count() != 0 {
		t.Fatalf("Current must not notify subscribers, got %d events", r.count())
	}

	// The probed state is the baseline: repeating it is not a transition.
	if p.PublishIfChanged(st) {
		t.Error("expected unchanged state to be suppressed")
	}
	wc.SetFail(true)
	if !p.PublishIfChanged(p.Probe(context.Background())) {
		t.Error("expected offline transition to be published")
	}
	if r.count() != 1 {
		t.Errorf("expected 1 event, got %d", r.count())
	}
}

func TestProber_RunPublishesUntilCanceled(t *testing.T) {
	t.Parallel()
	wc := &testutil.DummyWebClient{}
	p, err := connectivity.NewProber(wc, "http://api.test/health", 10*time.Millisecond, time.Second, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewProber: %v", err)
	}
	got := make(chan connectivity.State, 4)
	p.Subscribe(func(s connectivity.State) {
		select {
		case got <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	select {
	case s := <-got:
		if !s.Online() {
			t.Errorf("expected online event, got %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe event")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
