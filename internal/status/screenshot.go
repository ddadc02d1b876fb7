package status

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

const (
	// DefaultMaxScreenshotBytes is the largest screenshot payload a
	// published event may carry
	DefaultMaxScreenshotBytes = 4 << 20
	// DefaultInlineScreenshotBytes is the push-split threshold
	DefaultInlineScreenshotBytes = 256 << 10
)

// ValidateScreenshot checks that a screenshot payload is a
// well-formed PNG or JPEG within the size bound
func ValidateScreenshot(data []byte, maxBytes int) error {
	if len(data) == 0 {
		return fmt.Errorf("empty payload")
	}
	if len(data) > maxBytes {
		return fmt.Errorf("payload is %d bytes (limit %d)", len(data), maxBytes)
	}
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("not a decodable image: %w", err)
	} else if format != "png" && format != "jpeg" {
		return fmt.Errorf("unsupported image format %q", format)
	}
	return nil
}
