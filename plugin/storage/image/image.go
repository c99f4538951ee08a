// Package image normalizes uploaded pictures before they are stored.
package image

import (
	"bytes"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

var formats = map[string]imaging.Format{
	"image/jpeg": imaging.JPEG,
	"image/png":  imaging.PNG,
	"image/gif":  imaging.GIF,
	"image/bmp":  imaging.BMP,
	"image/tiff": imaging.TIFF,
}

// Extension returns the file extension used for contentType, or "".
func Extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	}
	return ""
}

// Normalize decodes r, applies EXIF orientation and fits the picture within
// maxSide x maxSide keeping its aspect ratio. Pictures that already fit are
// re-encoded at their original size.
func Normalize(r io.Reader, contentType string, maxSide int) ([]byte, error) {
	format, ok := formats[contentType]
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedFormat, contentType)
	}
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}
	bounds := img.Bounds()
	if maxSide > 0 && (bounds.Dx() > maxSide || bounds.Dy() > maxSide) {
		img = imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return nil, errors.Wrap(err, "failed to encode image")
	}
	return buf.Bytes(), nil
}
