package extract

import "fmt"

// Extraction failure causes.
const (
	CauseDownload    = "download failed"
	CauseUnsupported = "unsupported format"
	CauseEmpty       = "empty content"
)

// ExtractionError names the source that failed and why.
type ExtractionError struct {
	SourceID string
	Cause    string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract source %s: %s: %v", e.SourceID, e.Cause, e.Err)
	}
	return fmt.Sprintf("extract source %s: %s", e.SourceID, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
