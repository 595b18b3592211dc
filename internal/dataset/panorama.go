package dataset

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/webp" // register WebP decoder
)

// Panorama describes an equirectangular image without holding its pixels.
type Panorama struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Equirectangular reports whether the image has the 2:1 aspect of a full
// sphere.
func (p Panorama) Equirectangular() bool {
	return p.Height > 0 && p.Width == 2*p.Height
}

// ProbePanorama reads the header of an encoded image. Only the header is
// decoded; a panorama that is not 2:1 is accepted with a warning.
func ProbePanorama(name string, data []byte) (Panorama, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Panorama{}, fmt.Errorf("panorama: decode %s: %w", name, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Panorama{}, fmt.Errorf("panorama: %s has empty bounds %dx%d", name, cfg.Width, cfg.Height)
	}
	p := Panorama{Path: name, Format: format, Width: cfg.Width, Height: cfg.Height}
	if !p.Equirectangular() {
		logf("warning: %s is %dx%d, not 2:1; it will appear stretched", name, p.Width, p.Height)
	}
	return p, nil
}
