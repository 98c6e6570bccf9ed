package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	ErrTooLarge     = errors.New("file too large")
	ErrInvalidImage = errors.New("invalid image")
	ErrUnsupported  = errors.New("unsupported image type")
)

// ProfileImageOptions bounds what an upload may be and what it becomes.
type ProfileImageOptions struct {
	MaxBytes int64
	// MaxPixels rejects images whose header declares more pixels, before the
	// full decode allocates them.
	MaxPixels   int
	MaxDim      int
	JPEGQuality int
	// Background replaces transparency; JPEG has no alpha channel.
	Background color.RGBA
}

func DefaultProfileImageOptions() ProfileImageOptions {
	return ProfileImageOptions{
		MaxBytes:    5 * 1024 * 1024,
		MaxPixels:   40_000_000,
		MaxDim:      512,
		JPEGQuality: 85,
		Background:  color.RGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// ProfileImage is an encoded square JPEG ready for upload.
type ProfileImage struct {
	Data        []byte
	ContentType string
	Side        int
}

func (p *ProfileImage) Size() int64 { return int64(len(p.Data)) }

// Reader returns a fresh reader over the encoded bytes.
func (p *ProfileImage) Reader() io.Reader { return bytes.NewReader(p.Data) }

type signature struct {
	offset int
	magic  []byte
	format string
}

// Only these formats are accepted, whatever image.Decode has registered.
var signatures = []signature{
	{0, []byte{0xFF, 0xD8, 0xFF}, "jpeg"},
	{0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, "png"},
	{8, []byte("WEBP"), "webp"},
}

func sniffFormat(header []byte) (string, error) {
	if len(header) < 12 {
		return "", ErrInvalidImage
	}
	for _, sig := range signatures {
		if bytes.Equal(header[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			if sig.format == "webp" && !bytes.Equal(header[:4], []byte("RIFF")) {
				continue
			}
			return sig.format, nil
		}
	}
	return "", ErrUnsupported
}

// ProcessProfileImage validates an upload, crops its centred square and
// re-encodes it as a JPEG no larger than MaxDim on a side. It never upscales.
func ProcessProfileImage(r io.Reader, opts ProfileImageOptions) (*ProfileImage, error) {
	defaults := DefaultProfileImageOptions()
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaults.MaxBytes
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = defaults.MaxPixels
	}
	if opts.MaxDim <= 0 {
		opts.MaxDim = defaults.MaxDim
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = defaults.JPEGQuality
	}
	if opts.Background.A == 0 {
		opts.Background = defaults.Background
	}

	data, err := io.ReadAll(io.LimitReader(r, opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, ErrTooLarge
	}
	format, err := sniffFormat(data)
	if err != nil {
		return nil, err
	}

	cfg, decoded, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || decoded != format {
		return nil, ErrInvalidImage
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrInvalidImage
	}
	if cfg.Width*cfg.Height > opts.MaxPixels {
		return nil, ErrTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}

	crop := centerSquare(src.Bounds())
	side := crop.Dx()
	if side > opts.MaxDim {
		side = opts.MaxDim
	}

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: opts.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return &ProfileImage{Data: out.Bytes(), ContentType: "image/jpeg", Side: side}, nil
}

// centerSquare returns the largest square centred in r.
func centerSquare(r image.Rectangle) image.Rectangle {
	w, h := r.Dx(), r.Dy()
	if w > h {
		off := (w - h) / 2
		return image.Rect(r.Min.X+off, r.Min.Y, r.Min.X+off+h, r.Max.Y)
	}
	off := (h - w) / 2
	return image.Rect(r.Min.X, r.Min.Y+off, r.Max.X, r.Min.Y+off+w)
}
