// Package diagnosis talks to the remote crop-diagnosis service: image
// uploads, regional alerts and model metadata.
package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/raysh454/cropscan/internal/logging"
	"github.com/raysh454/cropscan/internal/model"
	"github.com/raysh454/cropscan/internal/webclient"
)

const (
	DefaultUploadTimeout  = 60 * time.Second
	DefaultRequestTimeout = 15 * time.Second

	uploadPath       = "/diagnosis/upload"
	nearbyAlertsPath = "/alerts/nearby"
	latestModelPath  = "/models/latest"
)

type Config struct {
	// BaseURL is the versioned API root, e.g. https://api.example.com/api/v1.
	BaseURL string

	UploadTimeout  time.Duration
	RequestTimeout time.Duration

	// LocationCellLevel snaps coordinates to the center of their S2 cell at
	// this level before they leave the device. Zero sends raw coordinates.
	LocationCellLevel int
}

// Metadata accompanies an uploaded image.
type Metadata struct {
	CropName  string
	Latitude  *float64
	Longitude *float64
}

// Client is the HTTP client for the diagnosis service.
type Client struct {
	wc     webclient.WebClient
	cfg    Config
	logger logging.Logger
}

func NewClient(wc webclient.WebClient, cfg Config, logger logging.Logger) (*Client, error) {
	if wc == nil {
		return nil, errors.New("diagnosis: nil web client")
	}
	if logger == nil {
		return nil, errors.New("diagnosis: nil logger")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("diagnosis: empty base url")
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.LocationCellLevel < 0 || cfg.LocationCellLevel > maxCellLevel {
		return nil, fmt.Errorf("diagnosis: location cell level %d out of range [0,%d]", cfg.LocationCellLevel, maxCellLevel)
	}
	return &Client{
		wc:     wc,
		cfg:    cfg,
		logger: logger.With(logging.Field{Key: "component", Value: "diagnosis"}),
	}, nil
}

// Upload sends the image at imageURI for diagnosis.
func (c *Client) Upload(ctx context.Context, imageURI string, meta Metadata) (*model.DiagnosisResult, error) {
	path, err := ImagePath(imageURI)
	if err != nil {
		return nil, &UploadError{Op: "resolve image", Err: err}
	}
	img, err := os.ReadFile(path)
	if err != nil {
		return nil, &UploadError{Op: "read image", Err: err}
	}

	body, contentType, err := c.encodeUpload(filepath.Base(path), img, meta)
	if err != nil {
		return nil, &UploadError{Op: "encode", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	hdrs := http.Header{}
	hdrs.Set("Content-Type", contentType)
	hdrs.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.wc.Do(ctx, &webclient.Request{
		Method:  http.MethodPost,
		URL:     c.cfg.BaseURL + uploadPath,
		Headers: hdrs,
		Body:    body,
	})
	if err != nil {
		return nil, &UploadError{Op: "upload", Err: err}
	}
	if !resp.OK() {
		return nil, &UploadError{Op: "upload", StatusCode: resp.StatusCode, Body: truncate(resp.Body, 512)}
	}

	var dr diagnosisResponse
	if err := json.Unmarshal(resp.Body, &dr); err != nil {
		return nil, &UploadError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	res := dr.toModel()
	c.logger.Info("diagnosis received",
		logging.Field{Key: "diagnosis_id", Value: res.ID},
		logging.Field{Key: "crop", Value: res.CropName},
		logging.Field{Key: "disease", Value: res.DiseaseName},
		logging.Field{Key: "confidence", Value: res.Confidence},
		logging.Field{Key: "duration_ms", Value: time.Since(start).Milliseconds()})
	return res, nil
}

// UploadScan delivers a stored scan's image and metadata. The server's
// verdict is not written back; the caller only needs success or failure.
func (c *Client) UploadScan(ctx context.Context, rec *model.ScanRecord) error {
	if rec == nil {
		return &UploadError{Op: "upload", Err: errors.New("nil scan record")}
	}
	_, err := c.Upload(ctx, rec.ImageURI, Metadata{
		CropName:  rec.CropName,
		Latitude:  rec.Latitude,
		Longitude: rec.Longitude,
	})
	return err
}

// NearbyAlerts lists active disease alerts around a location.
func (c *Client) NearbyAlerts(ctx context.Context, lat, lon float64) ([]model.Alert, error) {
	lat, lon = c.snap(lat, lon)
	q := url.Values{}
	q.Set("latitude", formatCoord(lat))
	q.Set("longitude", formatCoord(lon))

	var alerts []model.Alert
	if err := c.getJSON(ctx, nearbyAlertsPath+"?"+q.Encode(), &alerts); err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	return alerts, nil
}

// LatestModel returns metadata for the newest published model.
func (c *Client) LatestModel(ctx context.Context) (*model.ModelInfo, error) {
	var info model.ModelInfo
	if err := c.getJSON(ctx, latestModelPath, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	hdrs := http.Header{}
	hdrs.Set("Accept", "application/json")
	resp, err := c.wc.Do(ctx, &webclient.Request{Method: http.MethodGet, URL: c.cfg.BaseURL + path, Headers: hdrs})
	if err != nil {
		return &UploadError{Op: "get " + path, Err: err}
	}
	if !resp.OK() {
		return &UploadError{Op: "get " + path, StatusCode: resp.StatusCode, Body: truncate(resp.Body, 512)}
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &UploadError{Op: "decode " + path, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func (c *Client) encodeUpload(filename string, img []byte, meta Metadata) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", ContentTypeFor(filename))
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", err
	}

	if meta.CropName != "" {
		if err := mw.WriteField("crop_name", meta.CropName); err != nil {
			return nil, "", err
		}
	}
	if meta.Latitude != nil && meta.Longitude != nil {
		lat, lon := c.snap(*meta.Latitude, *meta.Longitude)
		if err := mw.WriteField("latitude", formatCoord(lat)); err != nil {
			return nil, "", err
		}
		if err := mw.WriteField("longitude", formatCoord(lon)); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func (c *Client) snap(lat, lon float64) (float64, float64) {
	if c.cfg.LocationCellLevel == 0 {
		return lat, lon
	}
	return SnapToCell(lat, lon, c.cfg.LocationCellLevel)
}

// ImagePath turns a file:// URI or plain path into a filesystem path.
func ImagePath(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", errors.New("empty image uri")
	}
	if !strings.Contains(uri, "://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse image uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported image uri scheme %q", u.Scheme)
	}
	if u.Path == "" {
		return "", fmt.Errorf("image uri %q has no path", uri)
	}
	return filepath.FromSlash(u.Path), nil
}

// ContentTypeFor maps an image file name to one of the types the service
// accepts. Anything that is not PNG is sent as JPEG.
func ContentTypeFor(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".png") {
		return "image/png"
	}
	return "image/jpeg"
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

type qualityMetrics struct {
	QualityScore float64 `json:"quality_score"`
}

type diagnosisResponse struct {
	ID             string             `json:"id"`
	CropName       string             `json:"crop_name"`
	DiseaseName    string             `json:"disease_name"`
	Confidence     float64            `json:"confidence"`
	IsHealthy      bool               `json:"is_healthy"`
	NeedsRetry     *string            `json:"needs_retry"`
	ImageURL       string             `json:"image_url"`
	QualityMetrics qualityMetrics     `json:"quality_metrics"`
	TopPredictions []model.Prediction `json:"top_3_predictions"`
	Suggestions    []string           `json:"suggestions"`
	ModelVersion   string             `json:"model_version"`
	HeatmapURL     *string            `json:"heatmap_url"`
	CreatedAt      time.Time          `json:"created_at"`
}

func (d *diagnosisResponse) toModel() *model.DiagnosisResult {
	res := &model.DiagnosisResult{
		ID:             d.ID,
		CropName:       d.CropName,
		DiseaseName:    d.DiseaseName,
		Confidence:     d.Confidence,
		IsHealthy:      d.IsHealthy,
		QualityScore:   d.QualityMetrics.QualityScore,
		ImageURL:       d.ImageURL,
		ModelVersion:   d.ModelVersion,
		Suggestions:    d.Suggestions,
		CreatedAt:      d.CreatedAt,
		TopPredictions: d.TopPredictions,
	}
	if d.NeedsRetry != nil {
		res.NeedsRetry = *d.NeedsRetry
	}
	if d.HeatmapURL != nil {
		res.HeatmapURL = *d.HeatmapURL
	}
	return res
}
