package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"

	"github.com/leca/imagevault/internal/model"
)

// DetectFormat inspects the raw bytes and returns the image format:
// "jpeg", "png", "gif", "webp", or "" if unknown.
func DetectFormat(data []byte) string {
	// JPEG: starts with FF D8 FF
	if len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg"
	}
	// PNG: starts with 89 50 4E 47 0D 0A 1A 0A
	if len(data) >= 8 && data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 &&
		data[4] == 0x0D && data[5] == 0x0A && data[6] == 0x1A && data[7] == 0x0A {
		return "png"
	}
	// GIF: starts with GIF87a or GIF89a
	if len(data) >= 6 && data[0] == 'G' && data[1] == 'I' && data[2] == 'F' {
		return "gif"
	}
	// WebP: starts with RIFF....WEBP
	if len(data) >= 12 && data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'W' && data[9] == 'E' && data[10] == 'B' && data[11] == 'P' {
		return "webp"
	}
	return ""
}

// Decode parses data into an image, returning its format as well.
// Used both for validation (a full decode, not just header sniffing) and as
// the first step of every processing operation.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// Thumbnail scales the image down to fit within w x h, preserving aspect
// ratio. Images already inside the box are returned unchanged.
func Thumbnail(img image.Image, w, h int) image.Image {
	if img.Bounds().Dx() <= w && img.Bounds().Dy() <= h {
		return img
	}
	return imaging.Fit(img, w, h, imaging.Lanczos)
}

// Resize scales the image to exactly w x h, ignoring aspect ratio.
func Resize(img image.Image, w, h int) image.Image {
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Crop cuts the rectangle (left, upper)-(right, lower) out of the image.
func Crop(img image.Image, p model.CropParams) image.Image {
	return imaging.Crop(img, image.Rect(p.Left, p.Upper, p.Right, p.Lower))
}

// Filter applies the named filter. Only grayscale is supported; unknown
// names fall back to grayscale, matching the single-filter behavior the
// task API has always had.
func Filter(img image.Image, filterType string) image.Image {
	return imaging.Grayscale(img)
}

// Rotate turns the image counter-clockwise by angle degrees, growing the
// canvas to hold the result.
func Rotate(img image.Image, angle float64) image.Image {
	return imaging.Rotate(img, angle, image.Transparent)
}

// Encode serialises an image to the given format and returns the bytes.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
			return nil, err
		}
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}
