package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// CropFace cuts a square face crop for model input: box is padded by
// padding×size on every side, grown to a square centred on the original box
// and clipped to the image. The result is a copy owned by the caller.
// It returns nil when nothing remains after clipping.
func CropFace(img image.Image, box image.Rectangle, padding float64) *image.RGBA {
	if box.Empty() {
		return nil
	}
	padX := int(float64(box.Dx()) * padding)
	padY := int(float64(box.Dy()) * padding)
	side := max(box.Dx()+2*padX, box.Dy()+2*padY)

	cx, cy := centerOf(box)
	sq := image.Rect(cx-side/2, cy-side/2, cx-side/2+side, cy-side/2+side)
	sq = sq.Intersect(img.Bounds())
	if sq.Empty() {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, sq.Dx(), sq.Dy()))
	draw.Draw(dst, dst.Bounds(), img, sq.Min, draw.Src)
	return dst
}

// Rotate returns img rotated clockwise by degrees (0, 90, 180 or 270).
// Other values return img unchanged.
func Rotate(img image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 || degrees%90 != 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var dst *image.RGBA
	if degrees == 180 {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			switch degrees {
			case 90:
				dst.Set(h-1-y, x, c)
			case 180:
				dst.Set(w-1-x, h-1-y, c)
			case 270:
				dst.Set(y, w-1-x, c)
			}
		}
	}
	return dst
}

// EncodeJPEG encodes img as a JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
