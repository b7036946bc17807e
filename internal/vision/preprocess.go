package vision

import (
	"image"

	"golang.org/x/image/draw"
)

// resizeRGBA scales img into a new w×h RGBA image with bilinear filtering.
func resizeRGBA(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// fillTensor resizes img to w×h and writes (pixel - mean) / std into dst,
// either planar CHW or interleaved HWC. dst must hold 3*w*h values.
func fillTensor(dst []float32, img image.Image, w, h int, chw bool, mean, std [3]float32) {
	rgba := resizeRGBA(img, w, h)
	plane := w * h
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+3]
			idx := y*w + x
			for c := 0; c < 3; c++ {
				v := (float32(px[c]) - mean[c]) / std[c]
				if chw {
					dst[c*plane+idx] = v
				} else {
					dst[idx*3+c] = v
				}
			}
		}
	}
}
