// Package imaging provides the raster value types and pure transforms the
// pipeline is built on. Images are 8-bit RGB, origin top-left, row-major.
// Every transform returns a new buffer; callers never observe in-place
// mutation of an argument.
package imaging

import (
	"bytes"
	"fmt"
	"image"
)

// Image is an H×W×3 raster of 8-bit RGB channel values.
type Image struct {
	W, H int
	Pix  []uint8 // len == W*H*3, row-major, RGB order
}

// New returns a zero-filled (black) image of the given size.
func New(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]uint8, w*h*3)}
}

// Clone returns a deep copy.
func (im *Image) Clone() *Image {
	out := &Image{W: im.W, H: im.H, Pix: make([]uint8, len(im.Pix))}
	copy(out.Pix, im.Pix)
	return out
}

// Offset returns the index of pixel (x, y) in Pix.
func (im *Image) Offset(x, y int) int {
	return (y*im.W + x) * 3
}

// Equal reports whether two images have identical size and pixel data.
func (im *Image) Equal(other *Image) bool {
	if other == nil || im.W != other.W || im.H != other.H {
		return false
	}
	return bytes.Equal(im.Pix, other.Pix)
}

// SameSize reports whether two images share dimensions.
func (im *Image) SameSize(other *Image) bool {
	return other != nil && im.W == other.W && im.H == other.H
}

// ToRGBA converts to the standard library representation.
func (im *Image) ToRGBA() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.W, im.H))
	for y := 0; y < im.H; y++ {
		src := im.Offset(0, y)
		dst := out.PixOffset(0, y)
		for x := 0; x < im.W; x++ {
			out.Pix[dst] = im.Pix[src]
			out.Pix[dst+1] = im.Pix[src+1]
			out.Pix[dst+2] = im.Pix[src+2]
			out.Pix[dst+3] = 0xff
			src += 3
			dst += 4
		}
	}
	return out
}

// FromNative converts any image.Image into an RGB raster.
func FromNative(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return out
}

// Mask is an H×W raster of semantically binary values: 0 inactive, 255 active.
type Mask struct {
	W, H int
	Pix  []uint8
}

// NewMask returns an all-inactive mask.
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

// Active reports whether pixel (x, y) is active.
func (m *Mask) Active(x, y int) bool {
	return m.Pix[y*m.W+x] > 0
}

// SetRect activates the rectangle [x0,x1)×[y0,y1), clamped to the mask bounds.
func (m *Mask) SetRect(x0, y0, x1, y1 int) {
	x0 = max(0, x0)
	y0 = max(0, y0)
	x1 = min(m.W, x1)
	y1 = min(m.H, y1)
	for y := y0; y < y1; y++ {
		row := y * m.W
		for x := x0; x < x1; x++ {
			m.Pix[row+x] = 255
		}
	}
}

// CountActive returns the number of active pixels.
func (m *Mask) CountActive() int {
	n := 0
	for _, v := range m.Pix {
		if v > 0 {
			n++
		}
	}
	return n
}

// MatchesImage reports whether the mask covers the same grid as im.
func (m *Mask) MatchesImage(im *Image) bool {
	return im != nil && m.W == im.W && m.H == im.H
}

// Placement is the rectangle, in canvas coordinates, where the resized
// source photo is pasted. Invariant: 0 ≤ X, 0 ≤ Y, X+Width ≤ canvas width,
// Y+Height ≤ canvas height.
type Placement struct {
	X, Y, Width, Height int
}

func (p Placement) String() string {
	return fmt.Sprintf("%dx%d@(%d,%d)", p.Width, p.Height, p.X, p.Y)
}

// Masks builds the protected mask (indicator of the placement) and the
// generation mask (left/right padding columns only; top/bottom padding is
// never generated). The two are disjoint by construction.
func Masks(canvasW, canvasH int, p Placement) (protected, generation *Mask) {
	protected = NewMask(canvasW, canvasH)
	protected.SetRect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)

	generation = NewMask(canvasW, canvasH)
	if p.X > 0 {
		generation.SetRect(0, 0, p.X, canvasH)
	}
	if right := p.X + p.Width; right < canvasW {
		generation.SetRect(right, 0, canvasW, canvasH)
	}
	// Carve out any overlap with the protected rows so the invariant
	// protected ∩ generation = ∅ holds even for degenerate placements.
	for y := p.Y; y < p.Y+p.Height; y++ {
		for x := p.X; x < p.X+p.Width; x++ {
			generation.Pix[y*canvasW+x] = 0
		}
	}
	return protected, generation
}
