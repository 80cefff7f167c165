package faceclient

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUndecodableImage is returned when the bytes are not a supported image.
var ErrUndecodableImage = errors.New("invalid image data")

// DefaultMaxPixels limits width*height of decoded images when no limit is configured.
const DefaultMaxPixels = 40_000_000

// DecodeImage decodes image data, returning ErrUndecodableImage for bytes
// that are not a supported image format or whose header declares more than
// maxPixels pixels. maxPixels <= 0 uses DefaultMaxPixels.
func DecodeImage(data []byte, maxPixels int) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty", ErrUndecodableImage)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > int64(maxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUndecodableImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUndecodableImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", fmt.Errorf("%w: zero-sized image", ErrUndecodableImage)
	}
	return img, format, nil
}

// PrepareImage validates image data and shrinks it to fit within maxSize
// (width or height) while keeping aspect ratio. Images that already fit and
// are JPEG or PNG are passed through unchanged; everything else is
// re-encoded as JPEG so the face service only sees formats it supports.
// Images above maxPixels are rejected before decoding, see DecodeImage.
func PrepareImage(data []byte, maxSize, maxPixels int) ([]byte, error) {
	img, format, err := DecodeImage(data, maxPixels)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		if format == "jpeg" || format == "png" {
			return data, nil
		}
		return encodeJPEG(img)
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	return encodeJPEG(resized)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
