package phash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	hashes := []uint64{0, 1, 0xFFFFFFFFFFFFFFFF, 0x0000000000000000, 0x1234567890ABCDEF}
	for _, h := range hashes {
		encoded := Encode(h)
		require.Len(t, encoded, 16)
		decoded, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, h, decoded)
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	_, err := Decode("short")
	assert.Error(t, err)
}

func TestDecodeInvalidHex(t *testing.T) {
	_, err := Decode("zzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestHammingSymmetricAndRange(t *testing.T) {
	a := uint64(0x0F0F0F0F0F0F0F0F)
	b := uint64(0xFF00FF00FF00FF00)
	d1 := Hamming(a, b)
	d2 := Hamming(b, a)
	assert.Equal(t, d1, d2)
	assert.GreaterOrEqual(t, d1, 0)
	assert.LessOrEqual(t, d1, 64)
}

func TestHammingIdentical(t *testing.T) {
	assert.Equal(t, 0, Hamming(0xABCDEF, 0xABCDEF))
}

func TestHammingMaxDistance(t *testing.T) {
	assert.Equal(t, 64, Hamming(0, 0xFFFFFFFFFFFFFFFF))
}

func TestSimilarThreshold(t *testing.T) {
	base := uint64(0)
	near := base | 0b111 // 3 bits set, distance 3
	far := base | 0xFF   // 8 bits set, distance 8

	assert.True(t, Similar(base, near))
	assert.False(t, Similar(base, far))
}

func TestHashSolidColorIsStable(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.White)
		}
	}
	h1 := Hash(img)
	h2 := Hash(img)
	assert.Equal(t, h1, h2)
	// A uniform image has no horizontal gradient, so every comparison bit is 0.
	assert.Equal(t, uint64(0), h1)
}
