package extract

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// ImageStore reads scanned answer sheets
type ImageStore interface {
	Exists(path string) bool
	ReadImage(path string) ([]byte, error)
}

var supportedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// DetectImageType sniffs data and returns its MIME type if it is one of the
// formats the vision capability accepts.
func DetectImageType(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", ErrImageEmpty
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes > %d", ErrImageTooLarge, len(data), maxBytes)
	}

	mt := mimetype.Detect(data)
	for _, supported := range supportedImageTypes {
		if mt.Is(supported) {
			return supported, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mt.String())
}
