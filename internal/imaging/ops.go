package imaging

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Resize scales the image to exactly w×h using CatmullRom resampling.
func Resize(im *Image, w, h int) *Image {
	if im.W == w && im.H == h {
		return im.Clone()
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), im.ToRGBA(), image.Rect(0, 0, im.W, im.H), xdraw.Over, nil)
	return FromNative(dst)
}

// FitResize scales the image to fit inside targetW×targetH preserving aspect
// ratio and returns the resized image together with its centered placement.
func FitResize(im *Image, targetW, targetH int) (*Image, Placement) {
	s := math.Min(float64(targetW)/float64(im.W), float64(targetH)/float64(im.H))
	w := max(1, int(math.Round(float64(im.W)*s)))
	h := max(1, int(math.Round(float64(im.H)*s)))
	resized := Resize(im, w, h)
	return resized, Placement{
		X:      (targetW - w) / 2,
		Y:      (targetH - h) / 2,
		Width:  w,
		Height: h,
	}
}

// CoverBackground scales the image to cover targetW×targetH, center-crops the
// overflow and applies a heavy blur. This is the default safe background.
func CoverBackground(im *Image, targetW, targetH, blurRadius int) *Image {
	s := math.Max(float64(targetW)/float64(im.W), float64(targetH)/float64(im.H))
	w := max(1, int(math.Round(float64(im.W)*s)))
	h := max(1, int(math.Round(float64(im.H)*s)))
	cover := Resize(im, w, h)

	left := (w - targetW) / 2
	top := (h - targetH) / 2
	cropped := New(targetW, targetH)
	for y := 0; y < targetH; y++ {
		src := cover.Offset(left, top+y)
		dst := cropped.Offset(0, y)
		copy(cropped.Pix[dst:dst+targetW*3], cover.Pix[src:src+targetW*3])
	}
	return Blur(cropped, blurRadius)
}

// ReflectBackground composes the resized photo onto a targetW×targetH canvas
// and fills the padding by mirroring the photo edges outward, columns first,
// then rows. The alternative safe background style.
func ReflectBackground(resized *Image, targetW, targetH int, p Placement) *Image {
	out := New(targetW, targetH)
	for y := 0; y < p.Height; y++ {
		src := resized.Offset(0, y)
		dst := out.Offset(p.X, p.Y+y)
		copy(out.Pix[dst:dst+p.Width*3], resized.Pix[src:src+p.Width*3])
	}
	// Left/right columns reflect around the vertical placement edges.
	for y := p.Y; y < p.Y+p.Height; y++ {
		for x := 0; x < p.X; x++ {
			sx := reflectIndex(x, p.X, p.X+p.Width)
			copyPixel(out, x, y, out, sx, y)
		}
		for x := p.X + p.Width; x < targetW; x++ {
			sx := reflectIndex(x, p.X, p.X+p.Width)
			copyPixel(out, x, y, out, sx, y)
		}
	}
	// Top/bottom rows reflect around the horizontal placement edges.
	for y := 0; y < p.Y; y++ {
		sy := reflectIndex(y, p.Y, p.Y+p.Height)
		copyRow(out, y, sy)
	}
	for y := p.Y + p.Height; y < targetH; y++ {
		sy := reflectIndex(y, p.Y, p.Y+p.Height)
		copyRow(out, y, sy)
	}
	return out
}

// reflectIndex mirrors coordinate v into the half-open interval [lo, hi).
func reflectIndex(v, lo, hi int) int {
	span := hi - lo
	if span <= 1 {
		return lo
	}
	if v < lo {
		v = lo + (lo - v - 1)
	} else if v >= hi {
		v = hi - (v - hi + 1)
	}
	if v < lo {
		v = lo
	}
	if v >= hi {
		v = hi - 1
	}
	return v
}

func copyPixel(dst *Image, dx, dy int, src *Image, sx, sy int) {
	d := dst.Offset(dx, dy)
	s := src.Offset(sx, sy)
	dst.Pix[d] = src.Pix[s]
	dst.Pix[d+1] = src.Pix[s+1]
	dst.Pix[d+2] = src.Pix[s+2]
}

func copyRow(im *Image, dstY, srcY int) {
	d := im.Offset(0, dstY)
	s := im.Offset(0, srcY)
	copy(im.Pix[d:d+im.W*3], im.Pix[s:s+im.W*3])
}

// Blur applies a gaussian-like blur approximated by three separable box
// passes. Radius 0 returns a clone.
func Blur(im *Image, radius int) *Image {
	if radius <= 0 {
		return im.Clone()
	}
	out := im.Clone()
	for i := 0; i < 3; i++ {
		out = boxBlurH(out, radius)
		out = boxBlurV(out, radius)
	}
	return out
}

func boxBlurH(im *Image, r int) *Image {
	out := New(im.W, im.H)
	for y := 0; y < im.H; y++ {
		for c := 0; c < 3; c++ {
			var sum int
			// Sliding window with edge clamping.
			for x := -r; x <= r; x++ {
				sum += int(im.Pix[im.Offset(clamp(x, 0, im.W-1), y)+c])
			}
			n := 2*r + 1
			for x := 0; x < im.W; x++ {
				out.Pix[out.Offset(x, y)+c] = uint8(sum / n)
				sum -= int(im.Pix[im.Offset(clamp(x-r, 0, im.W-1), y)+c])
				sum += int(im.Pix[im.Offset(clamp(x+r+1, 0, im.W-1), y)+c])
			}
		}
	}
	return out
}

func boxBlurV(im *Image, r int) *Image {
	out := New(im.W, im.H)
	for x := 0; x < im.W; x++ {
		for c := 0; c < 3; c++ {
			var sum int
			for y := -r; y <= r; y++ {
				sum += int(im.Pix[im.Offset(x, clamp(y, 0, im.H-1))+c])
			}
			n := 2*r + 1
			for y := 0; y < im.H; y++ {
				out.Pix[out.Offset(x, y)+c] = uint8(sum / n)
				sum -= int(im.Pix[im.Offset(x, clamp(y-r, 0, im.H-1))+c])
				sum += int(im.Pix[im.Offset(x, clamp(y+r+1, 0, im.H-1))+c])
			}
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComposeCenter pastes fg onto a copy of bg at the given placement.
func ComposeCenter(bg, fg *Image, p Placement) *Image {
	out := bg.Clone()
	for y := 0; y < p.Height; y++ {
		src := fg.Offset(0, y)
		dst := out.Offset(p.X, p.Y+y)
		copy(out.Pix[dst:dst+p.Width*3], fg.Pix[src:src+p.Width*3])
	}
	return out
}

// EdgeBlend softens the vertical seams of the placement by linearly blending
// the inner blendPx columns of the placed photo toward the background.
// The column at the seam leans most on the background; the innermost
// blended column is nearly pure photo.
func EdgeBlend(composite, background *Image, p Placement, blendPx int) *Image {
	if blendPx <= 0 || p.Width <= 2*blendPx {
		return composite.Clone()
	}
	out := composite.Clone()
	for y := p.Y; y < p.Y+p.Height; y++ {
		for i := 0; i < blendPx; i++ {
			// Alpha toward the background, strongest at the seam.
			a := float64(blendPx-i) / float64(blendPx+1)
			mixPixel(out, background, p.X+i, y, a)
			mixPixel(out, background, p.X+p.Width-1-i, y, a)
		}
	}
	return out
}

func mixPixel(dst, other *Image, x, y int, alpha float64) {
	d := dst.Offset(x, y)
	o := other.Offset(x, y)
	for c := 0; c < 3; c++ {
		v := float64(dst.Pix[d+c])*(1-alpha) + float64(other.Pix[o+c])*alpha
		dst.Pix[d+c] = uint8(math.Round(math.Min(255, math.Max(0, v))))
	}
}

// Blend cross-dissolves a toward b: alpha 0 yields a, alpha 1 yields b.
func Blend(a, b *Image, alpha float64) *Image {
	alpha = math.Min(1, math.Max(0, alpha))
	out := New(a.W, a.H)
	for i := range a.Pix {
		v := float64(a.Pix[i])*(1-alpha) + float64(b.Pix[i])*alpha
		out.Pix[i] = uint8(math.Round(v))
	}
	return out
}

// RampBlendTowardBase pulls the generated left/right bands of candidate back
// toward base with a boundary-weighted ramp: full base weight at the seam,
// fading toward the outer canvas edge. Used in fast mode to cheaply mask
// generation artifacts near the seam.
func RampBlendTowardBase(candidate, base *Image, p Placement) *Image {
	out := candidate.Clone()
	if p.X > 0 {
		band := p.X
		for y := 0; y < out.H; y++ {
			for x := 0; x < p.X; x++ {
				dist := p.X - 1 - x // 0 at the seam
				a := float64(band-dist) / float64(band)
				mixPixel(out, base, x, y, a)
			}
		}
	}
	if right := p.X + p.Width; right < out.W {
		band := out.W - right
		for y := 0; y < out.H; y++ {
			for x := right; x < out.W; x++ {
				dist := x - right
				a := float64(band-dist) / float64(band)
				mixPixel(out, base, x, y, a)
			}
		}
	}
	return out
}

// RestoreRegion copies the placement rectangle of src into a copy of dst.
// Defense in depth for the protected region, independent of the validators.
func RestoreRegion(dst, src *Image, p Placement) *Image {
	out := dst.Clone()
	for y := p.Y; y < p.Y+p.Height; y++ {
		d := out.Offset(p.X, y)
		s := src.Offset(p.X, y)
		copy(out.Pix[d:d+p.Width*3], src.Pix[s:s+p.Width*3])
	}
	return out
}
