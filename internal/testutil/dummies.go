// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"
	"github.com/raysh454/cropscan/internal/webclient"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ErrorCount returns the number of recorded error lines.
func (l *DummyLogger) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Errors)
}

// ─── Uploader ──────────────────────────────────────────────────────────

// ErrDummyUpload is returned by DummyUploader for ids listed in FailIDs.
var ErrDummyUpload = errors.New("dummy upload failure")

// DummyUploader implements syncer.Uploader.
// Set FailIDs[id] = true to force an error for a specific scan.
// When Gate is non-nil every upload blocks until a value is received from it
// (or the context ends), which lets tests hold a sync pass open.
type DummyUploader struct {
	FailIDs map[int64]bool
	Gate    chan struct{}
	Started chan int64

	mu       sync.Mutex
	Uploaded []int64
	inFlight int
	MaxSeen  int
}

func (d *DummyUploader) UploadScan(ctx context.Context, rec *model.ScanRecord) error {
	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.MaxSeen {
		d.MaxSeen = d.inFlight
	}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	if d.Started != nil {
		select {
		case d.Started <- rec.ID:
		default:
		}
	}
	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.Uploaded = append(d.Uploaded, rec.ID)
	if d.FailIDs != nil && d.FailIDs[rec.ID] {
		return fmt.Errorf("scan %d: %w", rec.ID, ErrDummyUpload)
	}
	return nil
}

// Calls returns a copy of the ids passed to UploadScan so far.
func (d *DummyUploader) Calls() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.Uploaded...)
}

// ─── WebClient ─────────────────────────────────────────────────────────

// DummyWebClient implements webclient.WebClient.
// By default it returns body "ok:<url>" with status 200.
// Set FailURLs[url] = true to force an error for a specific URL; set Fail
// to make every request fail.
type DummyWebClient struct {
	ResponseDelay time.Duration
	FailURLs      map[string]bool
	StatusCode    int
	Body          []byte

	mu       sync.Mutex
	Fail     bool
	Requests []*webclient.Request
}

// SetFail toggles failure of every request.
func (d *DummyWebClient) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Fail = fail
}

func (d *DummyWebClient) Do(ctx context.Context, req *webclient.Request) (*webclient.Response, error) {
	if d.ResponseDelay > 0 {
		select {
		case <-time.After(d.ResponseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	d.Requests = append(d.Requests, req)
	fail := d.Fail || (d.FailURLs != nil && d.FailURLs[req.URL])
	d.mu.Unlock()

	if fail {
		return nil, errors.New("dummy fetch fail for " + req.URL)
	}

	status := d.StatusCode
	if status == 0 {
		status = 200
	}
	body := d.Body
	if body == nil {
		body = []byte("ok:" + req.URL)
	}
	return &webclient.Response{
		Request:    req,
		Body:       body,
		StatusCode: status,
		FetchedAt:  time.Now(),
	}, nil
}

func (d *DummyWebClient) Close() error { return nil }

// RequestCount returns how many requests were issued.
func (d *DummyWebClient) RequestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Requests)
}

// ─── Records ───────────────────────────────────────────────────────────

// NewScan returns a valid unsynced record for the given crop.
func NewScan(crop string) *model.ScanRecord {
	return &model.ScanRecord{
		CropName:     crop,
		DiseaseName:  "Early Blight",
		Confidence:   0.85,
		ImageURI:     "file:///tmp/" + crop + ".jpg",
		QualityScore: 85,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
