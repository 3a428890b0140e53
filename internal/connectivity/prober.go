package connectivity

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/webclient"
)

const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// Prober turns periodic reachability checks against a URL into connectivity
// events. Any HTTP response counts as reachable; a transport error does not.
// Only transitions are published.
type Prober struct {
	*Broadcaster

	client   webclient.WebClient
	url      string
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
}

func NewProber(client webclient.WebClient, url string, interval, timeout time.Duration, logger logging.Logger) (*Prober, error) {
	if client == nil {
		return nil, errors.New("connectivity: nil web client")
	}
	if url == "" {
		return nil, errors.New("connectivity: empty probe url")
	}
	if logger == nil {
		return nil, errors.New("connectivity: nil logger")
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		Broadcaster: NewBroadcaster(),
		client:      client,
		url:         url,
		interval:    interval,
		timeout:     timeout,
		logger:      logger.With(logging.Field{Key: "component", Value: "prober"}),
	}, nil
}

// Probe performs one reachability check without publishing.
func (p *Prober) Probe(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.client.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: p.url})
	if err != nil {
		p.logger.Debug("probe failed", logging.Field{Key: "url", Value: p.url}, logging.Err(err))
		return State{}
	}
	return State{IsConnected: true, IsInternetReachable: true}
}

// Current probes now. The result becomes the baseline for later
// transitions but is not delivered to subscribers; the caller acts on it.
func (p *Prober) Current(ctx context.Context) (State, error) {
	st := p.Probe(ctx)
	p.remember(st)
	return st, nil
}

// Run probes every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("connectivity prober started",
		logging.Field{Key: "url", Value: p.url},
		logging.Field{Key: "interval", Value: p.interval.String()})

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("connectivity prober stopped")
			return
		case <-ticker.C:
			st := p.Probe(ctx)
			if p.PublishIfChanged(st) {
				p.logger.Info("connectivity changed", logging.Field{Key: "online", Value: st.Online()})
			}
		}
	}
}
