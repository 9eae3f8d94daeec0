// Package ocr is the "given image bytes, return best-effort text" capability.
package ocr

import (
	"context"
	"errors"
)

// ErrDisabled is returned by Disabled for every request.
var ErrDisabled = errors.New("ocr is not configured")

// Recognition is the best-effort text of one document.
type Recognition struct {
	Text string
	// Confidence is in [0,1]; nil when the engine does not report one.
	Confidence *float64
}

// Recognizer turns image (or scanned PDF) bytes into text.
type Recognizer interface {
	Recognize(ctx context.Context, content []byte, mediaType string) (Recognition, error)
}

// Disabled is the Recognizer used when no OCR engine is wired.
type Disabled struct{}

func (Disabled) Recognize(context.Context, []byte, string) (Recognition, error) {
	return Recognition{}, ErrDisabled
}

// Static returns a fixed recognition; useful for local runs and tests.
type Static struct {
	Result Recognition
	Err    error
}

func (s Static) Recognize(context.Context, []byte, string) (Recognition, error) {
	return s.Result, s.Err
}
