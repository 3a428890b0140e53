package model

import "time"

// DiagnosisResult is what the remote diagnosis service returns for one upload.
type DiagnosisResult struct {
	ID           string    `json:"id"`
	CropName     string    `json:"crop_name"`
	DiseaseName  string    `json:"disease_name"`
	Confidence   float64   `json:"confidence"`
	IsHealthy    bool      `json:"is_healthy"`
	QualityScore float64   `json:"quality_score"`
	NeedsRetry   string    `json:"needs_retry,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	HeatmapURL   string    `json:"heatmap_url,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	Suggestions  []string  `json:"suggestions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	TopPredictions []Prediction `json:"top_predictions,omitempty"`
}

// Prediction is one ranked candidate class from the diagnosis model.
type Prediction struct {
	ClassName   string  `json:"class_name"`
	CropName    string  `json:"crop_name"`
	DiseaseName string  `json:"disease_name"`
	Confidence  float64 `json:"confidence"`
}

// Alert is a regional disease alert near a location.
type Alert struct {
	ID             string  `json:"id"`
	DiseaseName    string  `json:"disease_name"`
	CropName       string  `json:"crop_name"`
	DetectionCount int     `json:"detection_count"`
	SeverityLevel  int     `json:"severity_level"`
	DistanceKM     float64 `json:"distance_km"`
	AlertDate      string  `json:"alert_date"`
}

// ModelInfo describes the latest diagnosis model published by the backend.
type ModelInfo struct {
	Version     string  `json:"version"`
	DownloadURL string  `json:"download_url,omitempty"`
	SizeMB      float64 `json:"size_mb,omitempty"`
	LastUpdated string  `json:"last_updated,omitempty"`
}
