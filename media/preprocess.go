// ABOUTME: Media normalization so providers accept oversized or incompatible inputs.
// ABOUTME: Caps image dimensions, then iteratively scales and lowers JPEG quality toward a byte ceiling.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Kind tells the preprocessor how to treat the payload.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Default normalization bounds.
const (
	DefaultMaxDimension  = 3840
	DefaultMaxBytes      = 9 << 20 // 9 MiB
	DefaultMaxAttempts   = 5
	defaultResizeQuality = 85
	compressStartQuality = 80
	compressQualityFloor = 50
	compressQualityStep  = 10
	compressScaleFactor  = 0.8
)

// Preprocessor normalizes raw media before upload. The zero value is not
// usable; construct with NewPreprocessor.
type Preprocessor struct {
	maxDimension int
	maxBytes     int
	maxAttempts  int
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithMaxDimension overrides the long-edge pixel cap.
func WithMaxDimension(px int) Option {
	return func(p *Preprocessor) { p.maxDimension = px }
}

// WithMaxBytes overrides the encoded byte-size ceiling.
func WithMaxBytes(n int) Option {
	return func(p *Preprocessor) { p.maxBytes = n }
}

// WithMaxAttempts overrides the compression attempt bound.
func WithMaxAttempts(n int) Option {
	return func(p *Preprocessor) { p.maxAttempts = n }
}

// NewPreprocessor returns a Preprocessor with provider-safe defaults.
func NewPreprocessor(opts ...Option) *Preprocessor {
	p := &Preprocessor{
		maxDimension: DefaultMaxDimension,
		maxBytes:     DefaultMaxBytes,
		maxAttempts:  DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Normalize returns media that fits the configured dimension and byte bounds.
// Images already within bounds pass through untouched. Videos always pass
// through: their size negotiation happens at the provider storage layer.
// When the compression bound is exhausted the last attempt is returned as a
// best effort rather than an error; the provider surfaces any remaining
// size rejection.
func (p *Preprocessor) Normalize(data []byte, kind Kind) ([]byte, error) {
	if kind != KindImage {
		return data, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	if cfg.Width <= p.maxDimension && cfg.Height <= p.maxDimension && len(data) <= p.maxBytes {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	// First pass: fit the long edge, re-encode at a fixed quality.
	if cfg.Width > p.maxDimension || cfg.Height > p.maxDimension {
		img = scaleToFit(img, p.maxDimension)
	}
	out, err := encodeJPEG(img, defaultResizeQuality)
	if err != nil {
		return nil, err
	}

	// Bounded compression loop toward the byte ceiling.
	quality := compressStartQuality
	for attempt := 0; attempt < p.maxAttempts && len(out) > p.maxBytes; attempt++ {
		img = scaleBy(img, compressScaleFactor)
		out, err = encodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		if quality-compressQualityStep >= compressQualityFloor {
			quality -= compressQualityStep
		}
	}

	// Re-encoding can inflate an already well-compressed payload. Falling
	// back to the original is only allowed when it satisfies the dimension
	// cap; an oversized image must come back resized no matter the cost.
	dimsFit := cfg.Width <= p.maxDimension && cfg.Height <= p.maxDimension
	if len(out) > len(data) && dimsFit {
		return data, nil
	}
	return out, nil
}

// scaleToFit scales img proportionally so its long edge equals maxDim.
func scaleToFit(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	long := w
	if h > long {
		long = h
	}
	if long <= maxDim {
		return img
	}
	factor := float64(maxDim) / float64(long)
	return scaleBy(img, factor)
}

// scaleBy resamples img by the given factor using bilinear interpolation.
func scaleBy(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := int(float64(b.Dx()) * factor)
	h := int(float64(b.Dy()) * factor)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// encodeJPEG encodes img at the given quality.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
