// Package compositor warps a fixed overlay image onto quadrilateral regions
// of a target image and encodes the result.
package compositor

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"plateCover/api/models"
)

// grayThreshold is the luminance a warped pixel must exceed to be painted
// when the overlay has no transparency channel.
const grayThreshold = 1.0

type Compositor struct {
	overlay  *image.NRGBA
	hasAlpha bool
	corners  [4]models.Point
	logger   *zap.Logger
}

func NewCompositor(overlay image.Image, logger *zap.Logger) (*Compositor, error) {
	b := overlay.Bounds()
	if b.Dx() < 2 || b.Dy() < 2 {
		return nil, fmt.Errorf("overlay too small: %dx%d", b.Dx(), b.Dy())
	}

	hasAlpha := hasAlphaChannel(overlay)
	if !hasAlpha {
		logger.Warn("Overlay has no transparency channel, masking by luminance",
			zap.Int("width", b.Dx()),
			zap.Int("height", b.Dy()),
		)
	}

	w, h := float64(b.Dx()-1), float64(b.Dy()-1)
	return &Compositor{
		overlay:  imaging.Clone(overlay),
		hasAlpha: hasAlpha,
		corners: [4]models.Point{
			{X: 0, Y: 0},
			{X: w, Y: 0},
			{X: w, Y: h},
			{X: 0, Y: h},
		},
		logger: logger,
	}, nil
}

// LoadOverlay reads the overlay from disk.
func LoadOverlay(path string, logger *zap.Logger) (*Compositor, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open overlay: %w", err)
	}
	return NewCompositor(img, logger)
}

// HasAlpha reports whether masking uses the overlay's alpha channel.
func (c *Compositor) HasAlpha() bool {
	return c.hasAlpha
}

// Apply returns a copy of img with the overlay painted over every region in
// order. Later regions overwrite earlier ones where they overlap.
func (c *Compositor) Apply(img image.Image, regions []models.Region) (*image.NRGBA, error) {
	out := imaging.Clone(img)
	for i, r := range regions {
		if err := c.cover(out, r); err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
	}
	return out, nil
}

func (c *Compositor) cover(dst *image.NRGBA, r models.Region) error {
	quad, err := OrderCorners(r.Points)
	if err != nil {
		return err
	}

	// inverse maps target pixels back into overlay space for sampling
	inverse, err := Homography(quad, c.corners)
	if err != nil {
		return err
	}
	forward, err := Homography(c.corners, quad)
	if err != nil {
		return err
	}

	area := c.footprint(forward).Intersect(dst.Bounds())
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			sx, sy, ok := inverse.Apply(float64(x), float64(y))
			if !ok {
				continue
			}
			px, ok := c.sample(sx, sy)
			if !ok || !c.masked(px) {
				continue
			}
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = clamp8(px[0])
			dst.Pix[i+1] = clamp8(px[1])
			dst.Pix[i+2] = clamp8(px[2])
		}
	}
	return nil
}

// footprint bounds the target pixels whose inverse mapping can reach the
// overlay, including the one-pixel bilinear fringe.
func (c *Compositor) footprint(forward Matrix) image.Rectangle {
	w, h := float64(c.overlay.Bounds().Dx()), float64(c.overlay.Bounds().Dy())
	edges := [4][2]float64{{-1, -1}, {w, -1}, {w, h}, {-1, h}}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, e := range edges {
		x, y, ok := forward.Apply(e[0], e[1])
		if !ok || !finite(x) || !finite(y) {
			return image.Rect(math.MinInt32, math.MinInt32, math.MaxInt32, math.MaxInt32)
		}
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}

	const limit = float64(math.MaxInt32)
	return image.Rect(
		int(math.Max(math.Floor(minX)-1, -limit)),
		int(math.Max(math.Floor(minY)-1, -limit)),
		int(math.Min(math.Ceil(maxX)+2, limit)),
		int(math.Min(math.Ceil(maxY)+2, limit)),
	)
}

// sample interpolates the overlay bilinearly at (x, y). Neighbours outside the
// overlay count as transparent black. ok is false when no neighbour is inside.
func (c *Compositor) sample(x, y float64) ([4]float64, bool) {
	var px [4]float64
	w, h := c.overlay.Bounds().Dx(), c.overlay.Bounds().Dy()
	if x <= -1 || y <= -1 || x >= float64(w) || y >= float64(h) {
		return px, false
	}

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)

	taps := [4]struct {
		x, y int
		wt   float64
	}{
		{x0, y0, (1 - fx) * (1 - fy)},
		{x0 + 1, y0, fx * (1 - fy)},
		{x0, y0 + 1, (1 - fx) * fy},
		{x0 + 1, y0 + 1, fx * fy},
	}
	for _, t := range taps {
		if t.wt == 0 || t.x < 0 || t.y < 0 || t.x >= w || t.y >= h {
			continue
		}
		i := c.overlay.PixOffset(t.x, t.y)
		for ch := 0; ch < 4; ch++ {
			px[ch] += t.wt * float64(c.overlay.Pix[i+ch])
		}
	}
	return px, true
}

func (c *Compositor) masked(px [4]float64) bool {
	if c.hasAlpha {
		return clamp8(px[3]) > 0
	}
	gray := 0.299*px[0] + 0.587*px[1] + 0.114*px[2]
	return math.Round(gray) > grayThreshold
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// hasAlphaChannel reports whether img carries transparency. Decoders return
// NRGBA for images stored with an alpha channel; other formats count only
// when they actually contain non-opaque pixels.
func hasAlphaChannel(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64:
		return true
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
