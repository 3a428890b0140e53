package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/cropscan/internal/connectivity"
	"github.com/raysh454/cropscan/internal/diagnosis"
	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/scanstore"
	"github.com/raysh454/cropscan/internal/syncer"
	"github.com/raysh454/cropscan/internal/webclient"
)

const shutdownTimeout = 15 * time.Second

// Application is the runtime state container. It owns the scan store, the
// diagnosis client and the sync coordinator and wires them together; pass
// it to whatever needs them instead of using package-level variables.
type Application struct {
	Config *Config
	Logger logging.Logger

	Store     *scanstore.Store
	WebClient webclient.WebClient
	Diagnosis *diagnosis.Client
	Syncer    *syncer.Coordinator
	Diagnoser *Diagnoser

	// Connectivity receives pushed state changes. In probe mode it is the
	// prober's broadcaster, so pushes and probes share one stream.
	Connectivity *connectivity.Broadcaster
	Prober       *connectivity.Prober

	ctx     context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup
	started bool
}

// NewApplication opens and initializes the scan store and builds every
// component from cfg. Nothing runs in the background until Start.
func NewApplication(ctx context.Context, cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		return nil, errors.New("app: nil logger")
	}

	store, err := scanstore.Open(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening scan store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing scan store: %w", err)
	}

	a, err := wire(cfg, logger, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *Config, logger logging.Logger, store *scanstore.Store) (*Application, error) {
	wc, err := webclient.NewNetHTTPClient(webclient.Config{
		Timeout:   cfg.API.UploadTimeout,
		UserAgent: cfg.API.UserAgent,
	}, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("creating web client: %w", err)
	}

	dc, err := diagnosis.NewClient(wc, diagnosis.Config{
		BaseURL:           cfg.API.BaseURL,
		UploadTimeout:     cfg.API.UploadTimeout,
		RequestTimeout:    cfg.API.RequestTimeout,
		LocationCellLevel: cfg.API.LocationCellLevel,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating diagnosis client: %w", err)
	}

	a := &Application{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		WebClient: wc,
		Diagnosis: dc,
	}

	var observer connectivity.Observer
	switch cfg.Connectivity.Mode {
	case ConnectivityProbe:
		target, err := cfg.ProbeTarget()
		if err != nil {
			return nil, fmt.Errorf("resolving probe url: %w", err)
		}
		p, err := connectivity.NewProber(wc, target, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout, logger)
		if err != nil {
			return nil, fmt.Errorf("creating connectivity prober: %w", err)
		}
		a.Prober = p
		a.Connectivity = p.Broadcaster
		observer = p
	default:
		a.Connectivity = connectivity.NewBroadcaster()
		observer = a.Connectivity
	}

	a.Syncer, err = syncer.NewCoordinator(store, dc, observer, logger)
	if err != nil {
		return nil, fmt.Errorf("creating sync coordinator: %w", err)
	}
	a.Diagnoser, err = NewDiagnoser(dc, store, logger)
	if err != nil {
		return nil, fmt.Errorf("creating diagnoser: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	return a, nil
}

// Start begins background work: the connectivity prober (probe mode) and
// the sync coordinator, which may start a pass right away.
func (a *Application) Start(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	if a.started {
		return errors.New("application already started")
	}
	a.started = true

	a.Logger.Info("application starting",
		logging.Field{Key: "db", Value: a.Config.DBPath()},
		logging.Field{Key: "api", Value: a.Config.API.BaseURL},
		logging.Field{Key: "connectivity", Value: a.Config.Connectivity.Mode})

	if a.Prober != nil {
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			a.Prober.Run(a.ctx)
		}()
	}
	return a.Syncer.Start(ctx)
}

// Shutdown stops accepting triggers, waits for an in-flight pass (bounded
// by ctx and a fixed timeout) and releases the store and transport.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	a.Syncer.Stop()
	a.cancel()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.Syncer.Wait()
		a.bg.Wait()
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.Logger.Warn("sync pass still running at shutdown", logging.Err(shutdownCtx.Err()))
		errs = append(errs, fmt.Errorf("waiting for sync pass: %w", shutdownCtx.Err()))
	}

	if err := a.WebClient.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing web client: %w", err))
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing scan store: %w", err))
	}
	return errors.Join(errs...)
}
