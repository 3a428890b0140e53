package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/raysh454/cropscan/internal/app"
	"github.com/raysh454/cropscan/internal/connectivity"
	"github.com/raysh454/cropscan/internal/model"
	"github.com/raysh454/cropscan/internal/testutil"
)

const diagnosisJSON = `{"id":"d1","crop_name":"Tomato","disease_name":"Early Blight","confidence":0.88,"is_healthy":false,"image_url":"https://cdn/x.jpg","quality_metrics":{"quality_score":80},"top_3_predictions":[],"suggestions":[],"model_version":"1.0","created_at":"2026-01-28T14:30:00Z"}`

func newBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var uploads atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"status":"healthy"}`)
		case "/api/v1/diagnosis/upload":
			uploads.Add(1)
			_, _ = io.WriteString(w, diagnosisJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &uploads
}

func newTestApp(t *testing.T, baseURL, mode string) *app.Application {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.API.BaseURL = baseURL + "/api/v1"
	cfg.Connectivity.Mode = mode
	// Only the startup check runs in tests; ticks would race the assertions.
	cfg.Connectivity.ProbeInterval = time.Hour
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	a, err := app.NewApplication(context.Background(), cfg, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	return a
}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "leaf.jpg")
	if err := os.WriteFile(p, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return "file://" + filepath.ToSlash(p)
}

func pendingScan(imageURI string) *model.ScanRecord {
	rec := testutil.NewScan("Tomato")
	rec.ImageURI = imageURI
	return rec
}

func TestNewApplication_NilLogger(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.DataDir = t.TempDir()
	if _, err := app.NewApplication(context.Background(), cfg, nil); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestApplication_PushModeSyncsOnConnectivityEvent(t *testing.T) {
	t.Parallel()
	backend, uploads := newBackend(t)
	a := newTestApp(t, backend.URL, app.ConnectivityPush)
	ctx := context.Background()

	if a.Prober != nil {
		t.Fatal("push mode must not create a prober")
	}
	id, err := a.Store.SaveScan(ctx, pendingScan(writeImage(t)))
	if err != nil {
		t.Fatalf("SaveScan: %v", err)
	}

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if uploads.Load() != 0 {
		t.Fatal("no upload expected before connectivity is reported")
	}

	a.Connectivity.Publish(connectivity.State{IsConnected: true, IsInternetReachable: true})
	a.Syncer.Wait()

	if uploads.Load() != 1 {
		t.Errorf("expected 1 upload, got %d", uploads.Load())
	}
	rec, err := a.Store.GetScan(ctx, id)
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if !rec.IsSynced {
		t.Error("expected scan to be synced")
	}

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApplication_ProbeModeSyncsAtStartup(t *testing.T) {
	t.Parallel()
	backend, uploads := newBackend(t)
	a := newTestApp(t, backend.URL, app.ConnectivityProbe)
	ctx := context.Background()

	if _, err := a.Store.SaveScan(ctx, pendingScan(writeImage(t))); err != nil {
		t.Fatalf("SaveScan: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.Syncer.Wait()

	if uploads.Load() != 1 {
		t.Errorf("expected startup pass to upload once, got %d", uploads.Load())
	}
	if r := a.Syncer.LastReport(); r == nil || r.Synced != 1 || r.Trigger != "startup" {
		t.Errorf("unexpected report %+v", r)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestApplication_StartTwice(t *testing.T) {
	t.Parallel()
	backend, _ := newBackend(t)
	a := newTestApp(t, backend.URL, app.ConnectivityPush)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(context.Background()); err == nil {
		t.Fatal("expected error on second Start")
	}
}
