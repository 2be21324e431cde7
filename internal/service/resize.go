package service

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/timmy/flashtag/internal/logger"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Upload images are fit inside this box before storage.
const (
	MaxUploadDimension = 512
	UploadJPEGQuality  = 75
)

// ResizedImage is the bytes to store for an upload.
type ResizedImage struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// Resized is false when the original bytes are kept.
	Resized bool
}

// ImageResizer shrinks uploads so vision calls stay cheap.
type ImageResizer struct {
	maxDim  int
	quality int
}

// NewImageResizer creates a resizer with the upload defaults.
func NewImageResizer() *ImageResizer {
	return &ImageResizer{maxDim: MaxUploadDimension, quality: UploadJPEGQuality}
}

// Resize fits data within the bounding box and re-encodes it as JPEG.
// Images that cannot be decoded are returned unchanged with contentType.
func (r *ImageResizer) Resize(ctx context.Context, data []byte, contentType string) *ResizedImage {
	original := &ResizedImage{Data: data, ContentType: contentType}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Could not decode upload, storing original bytes")
		return original
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), r.maxDim)
	original.Width, original.Height = bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: r.quality}); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("Could not encode resized upload, storing original bytes")
		return original
	}

	logger.With(logger.Fields{
		"format":        format,
		"source_width":  bounds.Dx(),
		"source_height": bounds.Dy(),
		"width":         w,
		"height":        h,
	}).WithSize(int64(buf.Len())).Debug(ctx, "Resized upload")

	return &ResizedImage{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       w,
		Height:      h,
		Resized:     true,
	}
}

// fitWithin scales w x h down to fit a limit x limit box, keeping the aspect ratio.
// Smaller images are not enlarged.
func fitWithin(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		nh := h * limit / w
		if nh < 1 {
			nh = 1
		}
		return limit, nh
	}
	nw := w * limit / h
	if nw < 1 {
		nw = 1
	}
	return nw, limit
}

// UploadKey names a resized upload; the extension follows the stored format.
func UploadKey(id string, img *ResizedImage, originalName string) string {
	if img.Resized {
		return id + ".jpg"
	}
	return renamedKey(id, originalName)
}
