package webclient

import "time"

type Config struct {
	// Timeout bounds a whole request including reading the body. Zero means 30s.
	Timeout time.Duration

	// UserAgent is sent on every request when set.
	UserAgent string

	// MaxBodyBytes caps how much of a response body is read. Zero means 8 MiB.
	MaxBodyBytes int64
}
