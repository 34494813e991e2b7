// Package caption describes uploaded images with a vision model.
package caption

import (
	"context"

	"github.com/tendant/simple-image-forensics/internal/codec"
)

// Captioner returns a short description of img. Implementations must
// honour ctx cancellation.
type Captioner interface {
	Caption(ctx context.Context, img codec.Decoded) (string, error)
}

// Static always returns the same text.
type Static string

func (s Static) Caption(ctx context.Context, _ codec.Decoded) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return string(s), nil
}

// Func adapts a function to Captioner.
type Func func(ctx context.Context, img codec.Decoded) (string, error)

func (f Func) Caption(ctx context.Context, img codec.Decoded) (string, error) {
	return f(ctx, img)
}
