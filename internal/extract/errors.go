package extract

import (
	"errors"
	"fmt"
)

var (
	ErrImageNotFound    = errors.New("image not found")
	ErrImageEmpty       = errors.New("image is empty")
	ErrImageTooLarge    = errors.New("image exceeds size limit")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrNoText           = errors.New("no text recognized")
	ErrZeroConfidence   = errors.New("extraction confidence is zero")
)

// ExtractionError reports a failed extraction for one image
type ExtractionError struct {
	ImagePath string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.ImagePath, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
