// Package fingerprint derives stable perceptual keys for video frames.
// Two frames showing the same scene produce the same key even across
// JPEG re-encodes, small motion, and lighting jitter, so the key can
// deduplicate repeat detections across process restarts and looped
// footage.
package fingerprint

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
)

const gridSize = 4

// Key is the 16-byte dedup digest of a frame.
type Key [md5.Size]byte

func (k Key) Hex() string {
	return hex.EncodeToString(k[:])
}

// Compute derives the key for a JPEG-encoded frame.
//
// The procedure is fixed: decode, box-average onto a 4x4 grid,
// grayscale, threshold each cell against the grid mean into a 16-bit
// mask (cell 0 in the high bit), pack the mask big-endian into two
// bytes, MD5 those bytes. Any change here invalidates every persisted
// dedup key, so the steps must not be reordered or re-tuned.
func Compute(jpegData []byte) (Key, error) {
	img, _, err := image.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return Key{}, fmt.Errorf("decode frame: %w", err)
	}

	cells := downscaleGray(img)

	var mean float64
	for _, v := range cells {
		mean += v
	}
	mean /= float64(len(cells))

	var mask uint16
	for i, v := range cells {
		if v > mean {
			mask |= 1 << (15 - i)
		}
	}

	packed := [2]byte{byte(mask >> 8), byte(mask)}
	return Key(md5.Sum(packed[:])), nil
}

// downscaleGray box-averages the image onto a 4x4 grid and converts
// each cell to BT.601 luma. The coarse grid is what makes the key
// tolerant of motion and re-encoding artifacts.
func downscaleGray(img image.Image) [gridSize * gridSize]float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var cells [gridSize * gridSize]float64
	for cy := 0; cy < gridSize; cy++ {
		for cx := 0; cx < gridSize; cx++ {
			x0 := b.Min.X + w*cx/gridSize
			x1 := b.Min.X + w*(cx+1)/gridSize
			y0 := b.Min.Y + h*cy/gridSize
			y1 := b.Min.Y + h*(cy+1)/gridSize
			if x1 <= x0 {
				x1 = x0 + 1
			}
			if y1 <= y0 {
				y1 = y0 + 1
			}

			var rSum, gSum, bSum, n float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					r, g, bl, _ := img.At(x, y).RGBA()
					rSum += float64(r >> 8)
					gSum += float64(g >> 8)
					bSum += float64(bl >> 8)
					n++
				}
			}
			cells[cy*gridSize+cx] = (0.299*rSum + 0.587*gSum + 0.114*bSum) / n
		}
	}
	return cells
}
