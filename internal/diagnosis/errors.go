package diagnosis

import "fmt"

// UploadError is any failure talking to the diagnosis service: transport,
// timeout, a non-2xx status or an undecodable body.
type UploadError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *UploadError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("diagnosis %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("diagnosis %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("diagnosis %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	}
}

func (e *UploadError) Unwrap() error { return e.Err }

// Temporary reports whether retrying later could succeed. Server errors,
// rate limiting and transport failures are temporary; other 4xx are not.
func (e *UploadError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 429 || e.StatusCode == 408
}
