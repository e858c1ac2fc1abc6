package embedding

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultImageSize is the square input resolution of CLIP ViT-B vision models.
const DefaultImageSize = 224

var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// LoadImage opens and decodes an image file in any registered format.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &EncodingError{Input: path, Err: err}
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &EncodingError{Input: path, Err: fmt.Errorf("decode image: %w", err)}
	}
	return img, nil
}

// Preprocess loads path and returns a 3×size×size pixel tensor in CHW order,
// resized on the short side, center-cropped, and normalized with CLIP mean/std.
func Preprocess(path string, size int) ([]float32, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return PixelValues(img, size), nil
}

// PixelValues converts img to a normalized CHW tensor of side size.
func PixelValues(img image.Image, size int) []float32 {
	if size <= 0 {
		size = DefaultImageSize
	}
	square := resizeCenterCrop(img, size)

	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := y*square.Stride + x*4
			i := y*size + x
			for c := 0; c < 3; c++ {
				v := float32(square.Pix[off+c]) / 255
				out[c*plane+i] = (v - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

func resizeCenterCrop(img image.Image, size int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return image.NewRGBA(image.Rect(0, 0, size, size))
	}
	// scale so the short side equals size
	var sw, sh int
	if w < h {
		sw, sh = size, max(size, h*size/w)
	} else {
		sw, sh = max(size, w*size/h), size
	}
	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0, y0 := (sw-size)/2, (sh-size)/2
	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return out
}
