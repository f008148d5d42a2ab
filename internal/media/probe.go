package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageConfig is what Probe learns from an image header
type ImageConfig struct {
	Width  int
	Height int
	Format string
}

// Probe decodes only the image header
func Probe(data []byte) (ImageConfig, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageConfig{}, fmt.Errorf("failed to probe image: %w", err)
	}
	return ImageConfig{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
