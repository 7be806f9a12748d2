// Package phash implements the 64-bit difference hash (dHash) used for
// visual deduplication of captured frames.
package phash

import (
	"encoding/hex"
	"fmt"
	"image"
	"math/bits"

	"golang.org/x/image/draw"
)

// hashWidth/hashHeight are the dHash resize target: 9x8 so each row yields
// 8 adjacent-pixel comparisons, 8 rows -> 64 bits total.
const (
	hashWidth  = 9
	hashHeight = 8
)

// Hash computes the dHash of img: grayscale, resize to 9x8, compare each
// row's adjacent pixels left-to-right, emit 1 bit per comparison.
func Hash(img image.Image) uint64 {
	small := image.NewGray(image.Rect(0, 0, hashWidth, hashHeight))
	draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Over, nil)

	var hash uint64
	bit := uint(0)
	for y := 0; y < hashHeight; y++ {
		for x := 0; x < hashWidth-1; x++ {
			left := grayAt(small, x, y)
			right := grayAt(small, x+1, y)
			if left < right {
				hash |= 1 << bit
			}
			bit++
		}
	}
	return hash
}

func grayAt(img *image.Gray, x, y int) uint8 {
	c := img.GrayAt(x, y)
	return c.Y
}

// Encode returns the canonical 16-character lowercase hex representation of
// a 64-bit hash.
func Encode(hash uint64) string {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(hash >> (56 - i*8))
	}
	return hex.EncodeToString(buf[:])
}

// Decode parses a 16-character lowercase hex hash back into a uint64. It is
// the inverse of Encode: Decode(Encode(h)) == h for all h.
func Decode(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("phash: hash must be 16 hex chars, got %d", len(s))
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("phash: invalid hex: %w", err)
	}
	var hash uint64
	for i := 0; i < 8; i++ {
		hash |= uint64(buf[i]) << (56 - i*8)
	}
	return hash, nil
}

// Hamming returns the number of differing bits between two hashes, a value
// in [0, 64]. Symmetric: Hamming(a, b) == Hamming(b, a).
func Hamming(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// DuplicateThreshold is the maximum Hamming distance at which two frames
// are considered visually similar (near-duplicates).
const DuplicateThreshold = 5

// Similar reports whether two hashes are within the duplication threshold.
func Similar(a, b uint64) bool {
	return Hamming(a, b) <= DuplicateThreshold
}
