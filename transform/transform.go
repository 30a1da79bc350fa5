// Copyright 2026 The imagecache authors.
// SPDX-License-Identifier: Apache-2.0

// Package transform handles rendering-edge image transformation such as
// downsampling, cropping, and rotation.  Cached payloads stay untouched; the
// orchestrator hands bytes to this package only when a caller asked for a
// transformed rendition.
package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"math"

	"github.com/disintegration/imaging"
	"github.com/muesli/smartcrop"
	"github.com/muesli/smartcrop/nfnt"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	"willnorris.com/go/gifresize"

	_ "golang.org/x/image/webp" // register webp format
)

// default compression quality of resized jpegs
const defaultQuality = 95

// maximum distance into image to look for EXIF tags
const maxExifSize = 1 << 20

// maxPixels is the largest image, in total pixels, this package will decode.
// Guards against images whose header declares enormous dimensions.
const maxPixels = 1 << 27

// resample filter used when resizing images
var resampleFilter = imaging.Lanczos

// Options describes the transformations to apply to an image.  Width and
// Height values between 0 and 1 are interpreted as fractions of the original
// dimensions, values of 1 or more as absolute pixel counts.
type Options struct {
	Width  float64
	Height float64

	// Fit scales the image to fit within Width and Height without cropping.
	Fit bool

	// ScaleUp allows resizing beyond the original dimensions.
	ScaleUp bool

	// Rotate is applied counter-clockwise in multiples of 90 degrees.
	Rotate int

	FlipVertical   bool
	FlipHorizontal bool

	// Quality of the output jpeg, defaulting to 95.
	Quality int

	// Format converts the output to the named encoding (gif, jpeg, png,
	// bmp, tiff).
	Format string

	// Crop rectangle.  Values between 0 and 1 are fractional; negative X
	// and Y measure from the right and bottom edges.
	CropX      float64
	CropY      float64
	CropWidth  float64
	CropHeight float64

	// SmartCrop picks the crop rectangle by content, sized by Width and
	// Height.
	SmartCrop bool

	// TrimEdges removes the uniform border color around the image.
	TrimEdges bool
}

var emptyOptions = Options{}

func (o Options) transform() bool {
	return o != emptyOptions
}

// Downsample scales the image down by the given factor, preserving its
// encoding.  Factors outside (0, 1) leave the image unchanged.
func Downsample(img []byte, scale float64) ([]byte, error) {
	if scale <= 0 || scale >= 1 {
		return img, nil
	}
	return Transform(img, Options{Width: scale, Height: scale, Fit: true})
}

// Transform the provided image.  img should contain the raw bytes of an
// encoded image in one of the supported formats (bmp, gif, jpeg, png, tiff,
// or webp).  The bytes of a similarly encoded image are returned.
func Transform(img []byte, opt Options) ([]byte, error) {
	if !opt.transform() {
		// bail if no transformation was requested
		return img, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)
	}

	// decode image
	m, format, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, err
	}

	// apply EXIF orientation for jpeg and tiff source images. Read at most
	// up to maxExifSize looking for EXIF tags.
	if format == "jpeg" || format == "tiff" {
		r := io.LimitReader(bytes.NewReader(img), maxExifSize)
		if exifOpt := exifOrientation(r); exifOpt.transform() {
			m = transformImage(m, exifOpt)
		}
	}

	// webp is decode-only, so encode it as jpeg
	if format == "webp" {
		format = "jpeg"
	}

	if opt.Format != "" {
		format = opt.Format
	}

	// transform and encode image
	buf := new(bytes.Buffer)
	switch format {
	case "bmp":
		m = transformImage(m, opt)
		err = bmp.Encode(buf, m)
	case "gif":
		fn := func(img image.Image) image.Image {
			return transformImage(img, opt)
		}
		err = gifresize.Process(buf, bytes.NewReader(img), fn)
	case "jpeg":
		quality := opt.Quality
		if quality == 0 {
			quality = defaultQuality
		}
		m = transformImage(m, opt)
		err = jpeg.Encode(buf, m, &jpeg.Options{Quality: quality})
	case "png":
		m = transformImage(m, opt)
		err = png.Encode(buf, m)
	case "tiff":
		m = transformImage(m, opt)
		err = tiff.Encode(buf, m, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	default:
		err = fmt.Errorf("unsupported format: %v", format)
	}
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// evaluateFloat interprets f as a fraction of max when it lies in (0, 1) and
// as an absolute value otherwise.  Negative values evaluate to 0.
func evaluateFloat(f float64, max int) int {
	if 0 < f && f < 1 {
		return int(float64(max) * f)
	}
	if f < 0 {
		return 0
	}
	return int(f)
}

// resizeParams determines if the image needs to be resized, and if so, the
// dimensions to resize to.
func resizeParams(m image.Image, opt Options) (w, h int, resize bool) {
	// convert percentage width and height values to absolute values
	imgW := m.Bounds().Dx()
	imgH := m.Bounds().Dy()
	w = evaluateFloat(opt.Width, imgW)
	h = evaluateFloat(opt.Height, imgH)

	// never resize larger than the original image unless specifically allowed
	if !opt.ScaleUp {
		if w > imgW {
			w = imgW
		}
		if h > imgH {
			h = imgH
		}
	}

	// if requested width and height match the original, skip resizing
	if (w == imgW || w == 0) && (h == imgH || h == 0) {
		return 0, 0, false
	}

	return w, h, true
}

// smartCrop uses content analysis to pick the best crop of size (w, h).
func smartCrop(m image.Image, w, h int) (image.Rectangle, error) {
	analyzer := smartcrop.NewAnalyzer(nfnt.NewDefaultResizer())
	return analyzer.FindBestCrop(m, w, h)
}

// cropParams calculates crop rectangle parameters to keep it in image bounds
func cropParams(m image.Image, opt Options) image.Rectangle {
	if !opt.SmartCrop && opt.CropX == 0 && opt.CropY == 0 && opt.CropWidth == 0 && opt.CropHeight == 0 {
		return m.Bounds()
	}

	// width and height of image
	imgW := m.Bounds().Dx()
	imgH := m.Bounds().Dy()

	if opt.SmartCrop {
		w := evaluateFloat(opt.Width, imgW)
		h := evaluateFloat(opt.Height, imgH)
		if crop, err := smartCrop(m, w, h); err != nil {
			log.Printf("smartcrop error: %v", err)
		} else if !crop.Empty() {
			return crop
		}
	}

	// establish crop dimensions, defaulting to the full image
	cropW := evaluateFloat(opt.CropWidth, imgW)
	if cropW <= 0 || cropW > imgW {
		cropW = imgW
	}
	cropH := evaluateFloat(opt.CropHeight, imgH)
	if cropH <= 0 || cropH > imgH {
		cropH = imgH
	}

	// establish crop origin; negative values measure from the far edge
	x := evaluateFloat(math.Abs(opt.CropX), imgW)
	if opt.CropX < 0 {
		x = imgW - x
	}
	y := evaluateFloat(math.Abs(opt.CropY), imgH)
	if opt.CropY < 0 {
		y = imgH - y
	}

	x2 := x + cropW
	if x2 > imgW {
		x2 = imgW
	}
	y2 := y + cropH
	if y2 > imgH {
		y2 = imgH
	}

	return image.Rect(x, y, x2, y2)
}

// transformImage modifies the image m based on the transformations specified
// in opt.
func transformImage(m image.Image, opt Options) image.Image {
	if opt.TrimEdges {
		m = trimEdges(m)
	}

	// Parse crop and resize parameters before applying any transforms.
	// This is to ensure that any percentage-based values are based off the
	// size of the original image.
	rect := cropParams(m, opt)
	w, h, resize := resizeParams(m, opt)

	// crop if needed
	if !rect.Eq(m.Bounds()) {
		m = imaging.Crop(m, rect)
	}
	// resize if needed
	if resize {
		if opt.Fit {
			m = imaging.Fit(m, w, h, resampleFilter)
		} else {
			if w == 0 || h == 0 {
				m = imaging.Resize(m, w, h, resampleFilter)
			} else {
				m = imaging.Thumbnail(m, w, h, resampleFilter)
			}
		}
	}

	// rotate, normalizing the angle to [0, 360)
	rotate := float64(opt.Rotate) - math.Floor(float64(opt.Rotate)/360)*360
	switch rotate {
	case 90:
		m = imaging.Rotate90(m)
	case 180:
		m = imaging.Rotate180(m)
	case 270:
		m = imaging.Rotate270(m)
	}

	// flip
	if opt.FlipVertical {
		m = imaging.FlipV(m)
	}
	if opt.FlipHorizontal {
		m = imaging.FlipH(m)
	}

	return m
}

// trimEdges returns the sub-image of m that excludes the border of uniform
// color, taking the top-left pixel as the border color.  Images with no
// trimmable border are returned unchanged.
func trimEdges(m image.Image) image.Image {
	b := m.Bounds()
	if b.Empty() {
		return m
	}

	bgR, bgG, bgB, bgA := m.At(b.Min.X, b.Min.Y).RGBA()

	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X, b.Min.Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := m.At(x, y).RGBA()
			if r == bgR && g == bgG && bl == bgB && a == bgA {
				continue
			}
			if x < minX {
				minX = x
			}
			if y < minY {
				minY = y
			}
			if x+1 > maxX {
				maxX = x + 1
			}
			if y+1 > maxY {
				maxY = y + 1
			}
		}
	}

	trimmed := image.Rect(minX, minY, maxX, maxY)
	if trimmed.Empty() || trimmed.Eq(b) {
		return m
	}
	return imaging.Crop(m, trimmed)
}

// exifOrientation parses the EXIF data in r, determining the image orientation
// and returning the correcting options.
func exifOrientation(r io.Reader) (opt Options) {
	// Exif Orientation Tag values
	// http://sylvana.net/jpegcrop/exif_orientation.html
	const (
		topLeftSide     = 1
		topRightSide    = 2
		bottomRightSide = 3
		bottomLeftSide  = 4
		leftSideTop     = 5
		rightSideTop    = 6
		rightSideBottom = 7
		leftSideBottom  = 8
	)

	ex, err := exif.Decode(r)
	if err != nil {
		return opt
	}
	tag, err := ex.Get(exif.Orientation)
	if err != nil {
		return opt
	}
	orient, err := tag.Int(0)
	if err != nil {
		return opt
	}

	switch orient {
	case topLeftSide:
		// do nothing
	case topRightSide:
		opt.FlipHorizontal = true
	case bottomRightSide:
		opt.Rotate = 180
	case bottomLeftSide:
		opt.FlipVertical = true
	case leftSideTop:
		opt.Rotate = 90
		opt.FlipVertical = true
	case rightSideTop:
		opt.Rotate = -90
	case rightSideBottom:
		opt.Rotate = 90
		opt.FlipHorizontal = true
	case leftSideBottom:
		opt.Rotate = 90
	}
	return opt
}
