package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedBounds(t *testing.T, data []byte) stdimage.Rectangle {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds()
}

func TestNormalizeFitsLongestSide(t *testing.T) {
	out, err := Normalize(bytes.NewReader(encodePNG(t, 400, 200)), "image/png", 100)
	require.NoError(t, err)
	b := decodedBounds(t, out)
	assert.Equal(t, 100, b.Dx())
	assert.Equal(t, 50, b.Dy())
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	out, err := Normalize(bytes.NewReader(encodePNG(t, 64, 32)), "image/png", 2048)
	require.NoError(t, err)
	b := decodedBounds(t, out)
	assert.Equal(t, 64, b.Dx())
	assert.Equal(t, 32, b.Dy())
}

func TestNormalizeConvertsFormat(t *testing.T) {
	out, err := Normalize(bytes.NewReader(encodePNG(t, 10, 10)), "image/jpeg", 2048)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, out[:2])
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Normalize(bytes.NewReader(encodePNG(t, 10, 10)), "image/webp", 2048)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = Normalize(strings.NewReader("not an image"), "image/png", 2048)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".jpg", Extension("image/jpeg"))
	assert.Equal(t, "", Extension("text/plain"))
}
