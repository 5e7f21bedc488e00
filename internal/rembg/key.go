package rembg

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"slices"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

const (
	defaultKeyTolerance   = 0.12
	defaultKeySoftness    = 0.08
	defaultKeyWorkingSize = 1024
	minKeyWorkingSize     = 16

	// pops between two context checks while flood filling
	ctxCheckInterval = 1 << 14
)

type KeyOptions struct {
	// Tolerance is the normalized RGB distance (0..1] up to which a pixel counts as background.
	Tolerance float64
	// Softness widens the edge ramp beyond Tolerance in which alpha rises from 0 to 255.
	Softness float64
	// WorkingSize caps the longest side of the copy the mask is computed on.
	WorkingSize int
}

// KeyRemover is an offline colour key: it estimates the background colour from
// the image border and clears every border-connected pixel close to it.
// It is meant for local testing without an inference server.
type KeyRemover struct {
	tolerance   float64
	softness    float64
	workingSize int
}

func NewKeyRemover(opts KeyOptions) (*KeyRemover, error) {
	k := &KeyRemover{
		tolerance:   opts.Tolerance,
		softness:    opts.Softness,
		workingSize: opts.WorkingSize,
	}
	if k.tolerance == 0 {
		k.tolerance = defaultKeyTolerance
	}
	if k.softness == 0 {
		k.softness = defaultKeySoftness
	}
	if k.workingSize == 0 {
		k.workingSize = defaultKeyWorkingSize
	}

	if k.tolerance < 0 || k.tolerance > 1 {
		return nil, fmt.Errorf("tolerance must be within (0, 1], got %v", k.tolerance)
	}
	if k.softness < 0 || k.softness > 1 {
		return nil, fmt.Errorf("softness must be within [0, 1], got %v", k.softness)
	}
	if k.workingSize < minKeyWorkingSize {
		return nil, fmt.Errorf("workingSize must be at least %d, got %d", minKeyWorkingSize, k.workingSize)
	}
	return k, nil
}

func (k *KeyRemover) Name() string {
	return "KeyRemover"
}

func (k *KeyRemover) Ready(_ context.Context) error {
	return nil
}

func (k *KeyRemover) Remove(ctx context.Context, img image.Image) (image.Image, error) {
	src := toNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("image has no pixels")
	}

	work := resizeWithinMax(src, k.workingSize)
	bg, ok := borderColor(work)
	slog.Debug("KeyRemover: estimated background",
		"width", w,
		"height", h,
		"working_width", work.Bounds().Dx(),
		"working_height", work.Bounds().Dy(),
		"background", bg,
		"opaque_border", ok)

	mask, err := k.backgroundMask(ctx, work, bg)
	if err != nil {
		return nil, err
	}
	if work != src {
		mask = toGray(resize.Resize(uint(w), uint(h), mask, resize.Bilinear))
	}

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	parallelFor(h, func(y int) {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+w*4]
		dstRow := out.Pix[y*out.Stride : y*out.Stride+w*4]
		maskRow := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x := 0; x < w; x++ {
			i := x * 4
			dstRow[i] = srcRow[i]
			dstRow[i+1] = srcRow[i+1]
			dstRow[i+2] = srcRow[i+2]
			dstRow[i+3] = uint8((uint32(srcRow[i+3])*uint32(maskRow[x]) + 127) / 255)
		}
	})

	return out, nil
}

// backgroundMask flood fills from the border through pixels within tolerance
// of bg. Filled pixels get 0, pixels in the softness ramp next to them get a
// partial value and everything else stays 255.
func (k *KeyRemover) backgroundMask(ctx context.Context, img *image.NRGBA, bg color.NRGBA) (*image.Gray, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	mask := image.NewGray(image.Rect(0, 0, w, h))
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))

	visit := func(idx int) {
		if visited[idx] {
			return
		}
		visited[idx] = true
		alpha, background := k.classify(img.Pix[idx*4:idx*4+4], bg)
		mask.Pix[idx] = alpha
		if background {
			queue = append(queue, idx)
		}
	}

	for x := 0; x < w; x++ {
		visit(x)
		visit((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		visit(y * w)
		visit(y*w + w - 1)
	}

	for pops := 0; len(queue) > 0; pops++ {
		if pops%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		x, y := idx%w, idx/w
		if x > 0 {
			visit(idx - 1)
		}
		if x < w-1 {
			visit(idx + 1)
		}
		if y > 0 {
			visit(idx - w)
		}
		if y < h-1 {
			visit(idx + w)
		}
	}
	return mask, nil
}

// classify returns the mask value for a pixel and whether the fill continues through it.
func (k *KeyRemover) classify(p []uint8, bg color.NRGBA) (uint8, bool) {
	if p[3] == 0 {
		return 0, true
	}
	d := colorDistance(p, bg)
	switch {
	case d <= k.tolerance:
		return 0, true
	case k.softness > 0 && d <= k.tolerance+k.softness:
		return uint8(math.Round(255 * (d - k.tolerance) / k.softness)), false
	default:
		return 255, false
	}
}

// colorDistance is the RGB euclidean distance normalized to [0, 1].
func colorDistance(p []uint8, bg color.NRGBA) float64 {
	dr := float64(p[0]) - float64(bg.R)
	dg := float64(p[1]) - float64(bg.G)
	db := float64(p[2]) - float64(bg.B)
	return math.Sqrt((dr*dr + dg*dg + db*db) / (3 * 255 * 255))
}

// borderColor returns the per channel median of the non transparent border
// pixels. ok is false when the whole border is transparent.
func borderColor(img *image.NRGBA) (color.NRGBA, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	var rs, gs, bs []uint8

	add := func(x, y int) {
		i := y*img.Stride + x*4
		if img.Pix[i+3] == 0 {
			return
		}
		rs = append(rs, img.Pix[i])
		gs = append(gs, img.Pix[i+1])
		bs = append(bs, img.Pix[i+2])
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		if h > 1 {
			add(x, h-1)
		}
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		if w > 1 {
			add(w-1, y)
		}
	}

	if len(rs) == 0 {
		return color.NRGBA{}, false
	}
	return color.NRGBA{R: median(rs), G: median(gs), B: median(bs), A: 255}, true
}

func median(values []uint8) uint8 {
	slices.Sort(values)
	return values[len(values)/2]
}

// resizeWithinMax scales img down so its longest side is at most maxSize.
func resizeWithinMax(img *image.NRGBA, maxSize int) *image.NRGBA {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)
	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))
	return toNRGBA(resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3))
}

// toNRGBA converts img to NRGBA anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if nrgba, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && nrgba.Stride == 4*b.Dx() {
		return nrgba
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	if gray, ok := img.(*image.Gray); ok && b.Min == (image.Point{}) && gray.Stride == b.Dx() {
		return gray
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
