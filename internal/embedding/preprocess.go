package embedding

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageNet channel means in BGR order, as subtracted by ResNet50 "caffe" preprocessing.
var bgrMean = [3]float32{103.939, 116.779, 123.68}

// Preprocessor converts encoded image bytes into a model input tensor.
type Preprocessor interface {
	Preprocess(data []byte, size int, dst []float32) error
}

// ResNetPreprocessor decodes an image, resizes it to size x size with nearest-neighbor sampling,
// and writes NHWC float32 values in BGR order with the ImageNet mean removed.
type ResNetPreprocessor struct{}

// Decode decodes JPEG, PNG, GIF or WebP bytes.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// Preprocess fills dst, which must hold size*size*3 values.
func (ResNetPreprocessor) Preprocess(data []byte, size int, dst []float32) error {
	if len(dst) != size*size*3 {
		return fmt.Errorf("input buffer has %d values, need %d", len(dst), size*size*3)
	}
	src, _, err := Decode(data)
	if err != nil {
		return err
	}
	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.NearestNeighbor.Scale(rgba, rgba.Bounds(), src, src.Bounds(), draw.Src, nil)

	i := 0
	for y := 0; y < size; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < size; x++ {
			p := row[x*4:]
			dst[i+0] = float32(p[2]) - bgrMean[0]
			dst[i+1] = float32(p[1]) - bgrMean[1]
			dst[i+2] = float32(p[0]) - bgrMean[2]
			i += 3
		}
	}
	return nil
}
