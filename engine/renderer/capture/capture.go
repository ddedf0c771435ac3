package capture

import (
	"fmt"
	"image"
	"io"
	"os"

	"golang.org/x/image/bmp"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

// Image wraps tightly packed 8-bit pixels read back from an attachment.
// BGRA data is swizzled, so the result is always RGBA ordered.
func Image(data []byte, extent metadata.Extent2D, format metadata.Format) (*image.NRGBA, error) {
	var swizzle bool
	switch format {
	case metadata.FormatR8G8B8A8Unorm, metadata.FormatR8G8B8A8Srgb:
	case metadata.FormatB8G8R8A8Unorm, metadata.FormatB8G8R8A8Srgb:
		swizzle = true
	default:
		return nil, core.NewConfigError("capture.Image", core.ErrInvalidFormat, "cannot capture %s", format)
	}
	size := int(extent.Width) * int(extent.Height) * 4
	if len(data) < size {
		return nil, core.NewConfigError("capture.Image", core.ErrInvalidFormat, "%d bytes for %dx%d", len(data), extent.Width, extent.Height)
	}

	img := image.NewNRGBA(image.Rect(0, 0, int(extent.Width), int(extent.Height)))
	copy(img.Pix, data[:size])
	if swizzle {
		for i := 0; i < size; i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img, nil
}

func EncodeBMP(w io.Writer, img image.Image) error {
	return bmp.Encode(w, img)
}

// SaveBMP writes img to path, replacing any existing file.
func SaveBMP(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := EncodeBMP(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	core.LogInfo("screenshot saved to %s (%dx%d)", path, img.Bounds().Dx(), img.Bounds().Dy())
	return nil
}
