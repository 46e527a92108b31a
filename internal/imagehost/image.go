// Package imagehost prepares grocery photos and publishes them to an
// ImgBB-compatible image host.
//
// An image goes through three strictly sequential stages: validation of the
// declared media type and size, compression to a small JPEG, and upload. The
// host returns a public URL that is stored on the grocery item.
package imagehost

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// decoders registered for image.Decode
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog/log"
)

const (
	// MaxFileSize is the largest input accepted before compression.
	MaxFileSize = 10 * 1024 * 1024

	MaxWidth  = 600
	MaxHeight = 600

	// JPEGQuality matches a 0.6 quality factor.
	JPEGQuality = 60

	// MaxPixels bounds the decoded size; a small file can declare huge dimensions.
	MaxPixels = 50_000_000
)

var (
	ErrInvalidType = errors.New("please select a valid image file")
	ErrTooLarge    = errors.New("image is too large (max 10MB)")
	ErrDecode      = errors.New("failed to decode image")
)

// File is an image as received from the user: its declared media type, its
// size and its raw bytes.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// FileFromPath reads a file from disk. The media type is declared from the
// extension, falling back to sniffing the content.
func FileFromPath(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read image: %w", err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

// Validate checks the declared media type and the raw size.
func Validate(f File) error {
	if !strings.HasPrefix(strings.ToLower(f.ContentType), "image/") {
		return fmt.Errorf("%w: %q", ErrInvalidType, f.ContentType)
	}
	if f.Size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, f.Size)
	}
	return nil
}

// ScaledSize returns the output dimensions for an image of w x h: the larger
// side is clamped to the maximum and the other keeps the aspect ratio.
func ScaledSize(w, h int) (int, int) {
	if w > h {
		if w > MaxWidth {
			h = scale(h, MaxWidth, w)
			w = MaxWidth
		}
	} else if h > MaxHeight {
		w = scale(w, MaxHeight, h)
		h = MaxHeight
	}
	return w, h
}

func scale(side, target, larger int) int {
	v := int(math.Round(float64(side) * float64(target) / float64(larger)))
	if v < 1 {
		return 1
	}
	return v
}

// Compress decodes data, shrinks it to fit 600x600 and re-encodes it as JPEG.
// Transparent pixels end up white.
func Compress(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	w, h := ScaledSize(bounds.Dx(), bounds.Dy())

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("new_width", w).
		Int("new_height", h).
		Msg("Compressed image")
	return out.Bytes(), nil
}
