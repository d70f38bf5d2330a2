package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// stdlibTransformer is the pure-Go fallback used when govips is not compiled
// in. It decodes jpeg, png, gif and webp and encodes jpeg, png and gif.
type stdlibTransformer struct{}

func (t stdlibTransformer) Probe(ctx context.Context, input []byte) (Metadata, error) {
	select {
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	default:
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return Metadata{}, fmt.Errorf("decode image config: %w", err)
	}
	return Metadata{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, opts Options) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return Output{}, fmt.Errorf("decode source image: %w", err)
	}

	out, err := resizeCover(src, opts.Width, opts.Height)
	if err != nil {
		return Output{}, err
	}

	data, err := encodeImage(out, opts.Format, opts.Quality)
	if err != nil {
		return Output{}, err
	}

	bounds := out.Bounds()
	return Output{
		Data:   data,
		Format: opts.Format,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// resizeCover scales src to the requested box. With both sides set the
// source is centre-cropped to the box's aspect ratio first so the output
// covers the box exactly.
func resizeCover(src image.Image, width, height int) (image.Image, error) {
	if width <= 0 && height <= 0 {
		return src, nil
	}

	srcBounds := src.Bounds()
	srcW, srcH := srcBounds.Dx(), srcBounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.New("source image has invalid dimensions")
	}

	dstW, dstH := targetBox(srcW, srcH, width, height)
	crop := srcBounds
	if width > 0 && height > 0 {
		crop = coverCrop(srcBounds, dstW, dstH)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst, nil
}

func coverCrop(bounds image.Rectangle, dstW, dstH int) image.Rectangle {
	srcW, srcH := bounds.Dx(), bounds.Dy()

	cropW, cropH := srcW, srcH
	if srcW*dstH > srcH*dstW {
		cropW = max(1, roundDiv(srcH*dstW, dstH))
	} else {
		cropH = max(1, roundDiv(srcW*dstH, dstW))
	}

	x0 := bounds.Min.X + (srcW-cropW)/2
	y0 := bounds.Min.Y + (srcH-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}

func encodeImage(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case "jpeg":
		if quality <= 0 || quality > 100 {
			quality = 100
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case "png":
		encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
		if err := encoder.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case "gif":
		if err := gif.Encode(&buf, img, nil); err != nil {
			return nil, fmt.Errorf("encode gif: %w", err)
		}
	case "webp", "avif":
		return nil, fmt.Errorf("%w: %s export requires govips build tag", ErrUnsupportedFormat, format)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return buf.Bytes(), nil
}
