package assetcache

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// imageProbe holds the dimensions and perceptual hash extracted from image
// content. Non-image content yields a zero probe.
type imageProbe struct {
	Width          int
	Height         int
	PerceptualHash string
}

func probeImage(data []byte) (imageProbe, bool) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return imageProbe{}, false
	}
	bounds := img.Bounds()
	return imageProbe{
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		PerceptualHash: averageHash(img),
	}, true
}

// averageHash computes an 8x8 average hash: downscale to an 8x8 grayscale
// grid, threshold each cell against the grid mean, and pack the 64 bits into
// 16 hex characters. Visually identical images hash to nearby values even
// when their bytes differ.
func averageHash(img image.Image) string {
	const grid = 8

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return ""
	}

	var cells [grid * grid]float64
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			x0 := bounds.Min.X + gx*width/grid
			x1 := bounds.Min.X + (gx+1)*width/grid
			y0 := bounds.Min.Y + gy*height/grid
			y1 := bounds.Min.Y + (gy+1)*height/grid
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}

			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, b, _ := img.At(x, y).RGBA()
					// Rec. 601 luma on 16-bit channel values.
					sum += 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
				}
			}
			cells[gy*grid+gx] = sum / float64((x1-x0)*(y1-y0))
		}
	}

	var mean float64
	for _, cell := range cells {
		mean += cell
	}
	mean /= grid * grid

	var packed uint64
	for i, cell := range cells {
		if cell >= mean {
			packed |= 1 << uint(63-i)
		}
	}
	return fmt.Sprintf("%016x", packed)
}

// HashDistance returns the Hamming distance between two perceptual hashes,
// or -1 when either hash is missing or malformed.
func HashDistance(a, b string) int {
	if len(a) != 16 || len(b) != 16 {
		return -1
	}
	var ua, ub uint64
	if _, err := fmt.Sscanf(a, "%016x", &ua); err != nil {
		return -1
	}
	if _, err := fmt.Sscanf(b, "%016x", &ub); err != nil {
		return -1
	}
	diff := ua ^ ub
	distance := 0
	for diff != 0 {
		distance++
		diff &= diff - 1
	}
	return distance
}
