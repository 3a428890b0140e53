package model

import "strings"

// ScanRecord is one persisted diagnosis attempt.
type ScanRecord struct {
	// ID is assigned by the scan store on creation and never changes.
	ID int64 `json:"id"`

	CropName    string `json:"crop_name"`
	DiseaseName string `json:"disease_name"`

	// Confidence is stored as a 0-1 fraction.
	Confidence float64 `json:"confidence"`

	// ImageURI is a local file path or file:// URI of the captured photo.
	ImageURI     string  `json:"image_uri"`
	QualityScore float64 `json:"quality_score"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// Timestamp is an RFC 3339 creation time, set once.
	Timestamp string `json:"timestamp"`

	// IsSynced only ever moves from false to true.
	IsSynced bool `json:"is_synced"`
}

// HasLocation reports whether both coordinates are present.
func (r *ScanRecord) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// ConfidencePercent returns the confidence scaled for display.
func (r *ScanRecord) ConfidencePercent() float64 {
	return r.Confidence * 100
}

// IsHealthy reports whether the diagnosis names a healthy plant.
func (r *ScanRecord) IsHealthy() bool {
	return strings.Contains(strings.ToLower(r.DiseaseName), "healthy")
}

// ScanStats summarizes the local scan history.
type ScanStats struct {
	Total      int    `json:"total"`
	Synced     int    `json:"synced"`
	Unsynced   int    `json:"unsynced"`
	Healthy    int    `json:"healthy"`
	LastScanAt string `json:"last_scan_at,omitempty"`
}
