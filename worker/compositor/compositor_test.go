package compositor

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"plateCover/api/models"
)

var (
	red   = color.NRGBA{R: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
	gray  = color.NRGBA{R: 50, G: 50, B: 50, A: 255}
)

// opaque builds an overlay without a transparency channel, left half l and
// right half r.
func opaque(w, h int, l, r color.NRGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := l
			if x >= w/2 {
				c = r
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func fill(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func rect(x0, y0, x1, y1 float64) models.Region {
	return models.Region{Points: [4]models.Point{pt(x1, y1), pt(x0, y0), pt(x0, y1), pt(x1, y0)}}
}

func TestCompositor_NoRegionsIsIdentity(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, red), zaptest.NewLogger(t))
	require.NoError(t, err)

	target := gradient(64, 48)
	for _, regions := range [][]models.Region{nil, {}} {
		out, err := c.Apply(target, regions)
		require.NoError(t, err)
		assert.Equal(t, target.Bounds(), out.Bounds())
		assert.Equal(t, target.Pix, out.Pix)
	}
}

func TestCompositor_DoesNotMutateInput(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, red), zaptest.NewLogger(t))
	require.NoError(t, err)

	target := fill(100, 80, gray)
	before := append([]uint8(nil), target.Pix...)

	_, err = c.Apply(target, []models.Region{rect(20, 30, 59, 49)})
	require.NoError(t, err)
	assert.Equal(t, before, target.Pix)
}

func TestCompositor_CoversRegion(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, red), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, c.HasAlpha())

	out, err := c.Apply(fill(100, 80, gray), []models.Region{rect(20, 30, 59, 49)})
	require.NoError(t, err)

	assert.Equal(t, red, out.NRGBAAt(40, 40))
	assert.Equal(t, red, out.NRGBAAt(21, 31))
	assert.Equal(t, gray, out.NRGBAAt(5, 5))
	assert.Equal(t, gray, out.NRGBAAt(15, 40))
	assert.Equal(t, gray, out.NRGBAAt(40, 55))
}

func TestCompositor_LuminanceMaskSkipsBlack(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, black, white), zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := c.Apply(fill(100, 80, gray), []models.Region{rect(20, 30, 59, 49)})
	require.NoError(t, err)

	assert.Equal(t, gray, out.NRGBAAt(25, 40))
	assert.Equal(t, white, out.NRGBAAt(55, 40))
}

func TestCompositor_AlphaMaskOverwritesWithoutBlending(t *testing.T) {
	overlay := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			if x < 10 {
				overlay.SetNRGBA(x, y, color.NRGBA{R: 255})
			} else {
				overlay.SetNRGBA(x, y, color.NRGBA{B: 255, A: 128})
			}
		}
	}

	c, err := NewCompositor(overlay, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, c.HasAlpha())

	out, err := c.Apply(fill(100, 80, gray), []models.Region{rect(20, 30, 59, 49)})
	require.NoError(t, err)

	assert.Equal(t, gray, out.NRGBAAt(25, 40))
	assert.Equal(t, blue, out.NRGBAAt(55, 40))
}

func TestCompositor_LaterRegionWins(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, blue), zaptest.NewLogger(t))
	require.NoError(t, err)

	whole := rect(0, 0, 39, 39)
	right := rect(20, 0, 39, 39)

	out, err := c.Apply(fill(40, 40, gray), []models.Region{whole, right})
	require.NoError(t, err)
	assert.Equal(t, red, out.NRGBAAt(25, 20))

	out, err = c.Apply(fill(40, 40, gray), []models.Region{right, whole})
	require.NoError(t, err)
	assert.Equal(t, blue, out.NRGBAAt(25, 20))
}

func TestCompositor_Deterministic(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, blue), zaptest.NewLogger(t))
	require.NoError(t, err)

	regions := []models.Region{{Points: [4]models.Point{pt(12, 7), pt(70, 15), pt(66, 52), pt(9, 40)}}}
	a, err := c.Apply(gradient(80, 60), regions)
	require.NoError(t, err)
	b, err := c.Apply(gradient(80, 60), regions)
	require.NoError(t, err)

	assert.Equal(t, a.Pix, b.Pix)
}

func TestCompositor_DegenerateRegion(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, red), zaptest.NewLogger(t))
	require.NoError(t, err)

	bad := models.Region{Points: [4]models.Point{pt(0, 0), pt(5, 5), pt(10, 10), pt(15, 15)}}
	out, err := c.Apply(fill(40, 40, gray), []models.Region{rect(0, 0, 10, 10), bad})
	assert.ErrorIs(t, err, ErrDegenerateRegion)
	assert.Nil(t, out)
}

func TestCompositor_RegionOutsideImage(t *testing.T) {
	c, err := NewCompositor(opaque(20, 10, red, red), zaptest.NewLogger(t))
	require.NoError(t, err)

	target := fill(40, 40, gray)
	out, err := c.Apply(target, []models.Region{rect(200, 200, 260, 240)})
	require.NoError(t, err)
	assert.Equal(t, target.Pix, out.Pix)
}

func TestNewCompositor_TooSmall(t *testing.T) {
	_, err := NewCompositor(opaque(1, 1, red, red), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestHasAlphaChannel(t *testing.T) {
	withHole := image.NewRGBA(image.Rect(0, 0, 2, 2))
	withHole.Set(0, 0, color.RGBA{A: 255})

	pal := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.RGBA{A: 255}, color.RGBA{}})
	pal.SetColorIndex(1, 1, 1)
	opaquePal := image.NewPaletted(image.Rect(0, 0, 2, 2), color.Palette{color.RGBA{A: 255}})

	tests := []struct {
		name string
		img  image.Image
		want bool
	}{
		{"nrgba", image.NewNRGBA(image.Rect(0, 0, 2, 2)), true},
		{"opaque rgba", opaque(2, 2, red, red), false},
		{"rgba with transparent pixels", withHole, true},
		{"gray", image.NewGray(image.Rect(0, 0, 2, 2)), false},
		{"paletted with transparent entry", pal, true},
		{"opaque paletted", opaquePal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasAlphaChannel(tt.img))
		})
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, fill(8, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 200})))
	require.NoError(t, f.Close())

	c, err := LoadOverlay(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, c.HasAlpha())

	_, err = LoadOverlay(filepath.Join(t.TempDir(), "missing.png"), zaptest.NewLogger(t))
	assert.Error(t, err)
}
