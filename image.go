package thumb

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/chai2010/webp"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp" // registers the webp decoder
)

// DefaultQuality is used when a preset leaves quality unset.
const DefaultQuality = 85

// Output formats.
const (
	FormatJPG  = "jpg"
	FormatPNG  = "png"
	FormatWebP = "webp"
	FormatGIF  = "gif"
)

// DefaultAllowedExtensions lists the source extensions accepted by default.
var DefaultAllowedExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}

func normalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if f == "jpeg" {
		return FormatJPG
	}
	return f
}

func supportedFormat(format string) bool {
	switch normalizeFormat(format) {
	case FormatJPG, FormatPNG, FormatWebP, FormatGIF:
		return true
	}
	return false
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch normalizeFormat(format) {
	case FormatJPG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	}
	return "application/octet-stream"
}

// ContentTypeOf returns the MIME type implied by key's extension.
func ContentTypeOf(key string) string {
	return ContentType(strings.TrimPrefix(path.Ext(key), "."))
}

// DecodeImage decodes any registered image format.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// CropImage returns the sub-image described by r, relative to img's bounds.
func CropImage(img image.Image, r Rect) image.Image {
	origin := img.Bounds().Min
	rect := image.Rect(origin.X+r.X, origin.Y+r.Y, origin.X+r.X+r.W, origin.Y+r.Y+r.H)
	if sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return sub.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Transform crops img per plan and resizes it to size.
func Transform(img image.Image, plan Crop, size Size) image.Image {
	if plan.NeedsCrop {
		img = CropImage(img, plan.Rect)
	}
	return resize.Resize(uint(size.Width), uint(size.Height), img, resize.Lanczos3)
}

// EncodeImage encodes img in format at quality (1-100).
func EncodeImage(img image.Image, format string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	var err error
	switch normalizeFormat(format) {
	case FormatJPG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatWebP:
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case FormatGIF:
		err = gif.Encode(&buf, img, &gif.Options{NumColors: 256})
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrEncode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
