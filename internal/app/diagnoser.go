package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/raysh454/cropscan/internal/diagnosis"
	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"
	"github.com/raysh454/cropscan/internal/scanstore"
)

const (
	PendingDiseaseName = "Pending diagnosis"
	UnknownCropName    = "Unknown crop"
)

var ErrInvalidCapture = errors.New("invalid capture request")

// ImageUploader sends a captured image for diagnosis.
type ImageUploader interface {
	Upload(ctx context.Context, imageURI string, meta diagnosis.Metadata) (*model.DiagnosisResult, error)
}

// ScanSaver persists scan records.
type ScanSaver interface {
	SaveScan(ctx context.Context, rec *model.ScanRecord) (int64, error)
}

// CaptureRequest is one photo taken by the user.
type CaptureRequest struct {
	ImageURI  string   `json:"image_uri"`
	CropName  string   `json:"crop_name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// SkipSave returns the diagnosis without recording it locally.
	SkipSave bool `json:"skip_save,omitempty"`
}

// Outcome is what the capture flow produced. Scan is nil when SkipSave was
// set; Result is nil when the upload failed and the scan was queued.
type Outcome struct {
	Scan        *model.ScanRecord      `json:"scan,omitempty"`
	Result      *model.DiagnosisResult `json:"result,omitempty"`
	Pending     bool                   `json:"pending"`
	UploadError string                 `json:"upload_error,omitempty"`
}

// Diagnoser runs the capture flow: diagnose online when possible, otherwise
// keep the capture as an unsynced scan for the sync coordinator.
type Diagnoser struct {
	uploader ImageUploader
	store    ScanSaver
	logger   logging.Logger
	now      func() time.Time
}

func NewDiagnoser(uploader ImageUploader, store ScanSaver, logger logging.Logger) (*Diagnoser, error) {
	if uploader == nil || store == nil {
		return nil, errors.New("app: diagnoser needs an uploader and a store")
	}
	if logger == nil {
		return nil, errors.New("app: nil logger")
	}
	return &Diagnoser{
		uploader: uploader,
		store:    store,
		logger:   logger.With(logging.Field{Key: "component", Value: "diagnoser"}),
		now:      time.Now,
	}, nil
}

// Diagnose uploads the capture. On success the server's verdict is saved
// as an already-synced scan. On failure an unsynced placeholder is saved
// and the upload error is reported in the outcome rather than returned.
// Only validation and storage failures are returned as errors, plus upload
// failures when SkipSave leaves nothing to queue.
func (d *Diagnoser) Diagnose(ctx context.Context, req CaptureRequest) (*Outcome, error) {
	req.ImageURI = strings.TrimSpace(req.ImageURI)
	req.CropName = strings.TrimSpace(req.CropName)
	if req.ImageURI == "" {
		return nil, errors.Join(ErrInvalidCapture, errors.New("image_uri is required"))
	}
	if (req.Latitude == nil) != (req.Longitude == nil) {
		return nil, errors.Join(ErrInvalidCapture, errors.New("latitude and longitude must be set together"))
	}

	res, upErr := d.uploader.Upload(ctx, req.ImageURI, diagnosis.Metadata{
		CropName:  req.CropName,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})

	if upErr != nil && req.SkipSave {
		return nil, upErr
	}
	if upErr == nil && req.SkipSave {
		return &Outcome{Result: res}, nil
	}

	rec := &model.ScanRecord{
		ImageURI:  req.ImageURI,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Timestamp: d.now().UTC().Format(scanstore.TimestampLayout),
	}
	out := &Outcome{Scan: rec}

	if upErr != nil {
		d.logger.Warn("diagnosis upload failed, queued for sync",
			logging.Field{Key: "image_uri", Value: req.ImageURI},
			logging.Err(upErr))
		rec.CropName = firstNonEmpty(req.CropName, UnknownCropName)
		rec.DiseaseName = PendingDiseaseName
		rec.IsSynced = false
		out.Pending = true
		out.UploadError = upErr.Error()
	} else {
		rec.CropName = firstNonEmpty(res.CropName, req.CropName, UnknownCropName)
		rec.DiseaseName = firstNonEmpty(res.DiseaseName, PendingDiseaseName)
		rec.Confidence = res.Confidence
		rec.QualityScore = res.QualityScore
		rec.IsSynced = true
		out.Result = res
	}

	if _, err := d.store.SaveScan(ctx, rec); err != nil {
		return nil, err
	}
	d.logger.Info("scan recorded",
		logging.Field{Key: "scan_id", Value: rec.ID},
		logging.Field{Key: "pending", Value: out.Pending})
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
