//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsTransformer struct{}

func (t govipsTransformer) Probe(ctx context.Context, input []byte) (Metadata, error) {
	select {
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	return Metadata{
		Format: formatName(vips.DetermineImageType(input)),
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, opts Options) (Output, error) {
	select {
	case <-ctx.Done():
		return Output{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(input)
	if err != nil {
		return Output{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if err := applyGovipsResize(img, opts.Width, opts.Height); err != nil {
		return Output{}, err
	}

	data, err := exportGovipsImage(img, opts.Format, opts.Quality)
	if err != nil {
		return Output{}, err
	}

	return Output{
		Data:   data,
		Format: opts.Format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func applyGovipsResize(img *vips.ImageRef, width, height int) error {
	if width <= 0 && height <= 0 {
		return nil
	}
	if img.Width() <= 0 || img.Height() <= 0 {
		return fmt.Errorf("source image has invalid dimensions")
	}

	scaleW := float64(width) / float64(img.Width())
	scaleH := float64(height) / float64(img.Height())

	var scale float64
	switch {
	case width > 0 && height > 0:
		scale = scaleW
		if scaleH > scale {
			scale = scaleH
		}
	case width > 0:
		scale = scaleW
	default:
		scale = scaleH
	}

	if err := img.Resize(scale, vips.KernelLanczos3); err != nil {
		return fmt.Errorf("resize image: %w", err)
	}

	if width > 0 && height > 0 {
		cropW := min(width, img.Width())
		cropH := min(height, img.Height())
		left := max(0, (img.Width()-cropW)/2)
		top := max(0, (img.Height()-cropH)/2)
		if err := img.ExtractArea(left, top, cropW, cropH); err != nil {
			return fmt.Errorf("crop image: %w", err)
		}
	}
	return nil
}

func formatName(imageType vips.ImageType) string {
	switch imageType {
	case vips.ImageTypeJPEG:
		return "jpeg"
	case vips.ImageTypePNG:
		return "png"
	case vips.ImageTypeGIF:
		return "gif"
	case vips.ImageTypeWEBP:
		return "webp"
	case vips.ImageTypeAVIF:
		return "avif"
	case vips.ImageTypeSVG:
		return "svg"
	case vips.ImageTypeTIFF:
		return "tiff"
	default:
		return ""
	}
}

func exportGovipsImage(img *vips.ImageRef, format string, quality int) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case "jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err = img.ExportJpeg(params)
	case "png":
		data, _, err = img.ExportPng(vips.NewPngExportParams())
	case "gif":
		data, _, err = img.ExportGIF(vips.NewGifExportParams())
	case "webp":
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = img.ExportWebp(params)
	case "avif":
		params := vips.NewAvifExportParams()
		params.Quality = quality
		data, _, err = img.ExportAvif(params)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return data, nil
}
