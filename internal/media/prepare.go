// Package media validates and compresses photo payloads before transfer.
package media

import (
	"bytes"
	"image"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/probuild/fieldsync/internal/errors"
	"github.com/probuild/fieldsync/internal/logging"
)

// Options holds media preparation policy.
type Options struct {
	// MaxSourceBytes is the hard ceiling on the raw file size.
	MaxSourceBytes int64
	// TargetBytes is the soft ceiling the compressed output aims for.
	TargetBytes int
	// MaxWidth is the bounding width of the first compression pass.
	MaxWidth int
	// Quality is the JPEG quality of the first pass.
	Quality int
	// SecondPassWidth and SecondPassQuality drive the one extra, more
	// aggressive pass taken when the first result exceeds 2x TargetBytes.
	SecondPassWidth   int
	SecondPassQuality int
}

// DefaultOptions returns the default preparation policy.
func DefaultOptions() *Options {
	return &Options{
		MaxSourceBytes:    10 * 1024 * 1024, // 10 MiB
		TargetBytes:       50 * 1024,        // ~50 KiB
		MaxWidth:          800,
		Quality:           60,
		SecondPassWidth:   600,
		SecondPassQuality: 40,
	}
}

// PreparedMedia is the result of a successful preparation.
type PreparedMedia struct {
	// Path is a temp file holding the compressed JPEG. The source file is
	// never touched.
	Path           string
	OriginalSize   int64
	CompressedSize int64
}

// Preparer validates and compresses photos per a fixed policy.
type Preparer struct {
	opts *Options
}

// NewPreparer creates a Preparer. A nil opts uses DefaultOptions.
func NewPreparer(opts *Options) *Preparer {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Preparer{opts: opts}
}

// Prepare validates the referenced photo and produces a compressed copy.
// Validation failures are terminal for the item: the caller reports them and
// does not retry inside this component.
func (p *Preparer) Prepare(localRef string) (*PreparedMedia, error) {
	path := localPath(localRef)

	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrFileMissing, "media file no longer exists", err)
	}

	originalSize := info.Size()
	if originalSize > p.opts.MaxSourceBytes {
		return nil, apperrors.New(apperrors.ErrFileTooLarge,
			"media file exceeds size ceiling: "+humanize.Bytes(uint64(originalSize)))
	}

	// Best-effort signature probe. An unreadable probe must not block the
	// upload; only a positive mismatch rejects.
	if mtype, err := mimetype.DetectFile(path); err == nil {
		if !mtype.Is("image/jpeg") && !mtype.Is("image/png") {
			return nil, apperrors.New(apperrors.ErrUnsupportedType,
				"unsupported media type: "+mtype.String())
		}
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCompression, "failed to decode media file", err)
	}

	encoded, err := p.encodePass(img, p.opts.MaxWidth, p.opts.Quality)
	if err != nil {
		return nil, err
	}

	// At most one extra pass; never iterate further, to bound latency.
	if len(encoded) > 2*p.opts.TargetBytes {
		logging.Debug("Compressed media still above target, running aggressive pass",
			map[string]interface{}{
				"size":   humanize.Bytes(uint64(len(encoded))),
				"target": humanize.Bytes(uint64(p.opts.TargetBytes)),
			})
		encoded, err = p.encodePass(img, p.opts.SecondPassWidth, p.opts.SecondPassQuality)
		if err != nil {
			return nil, err
		}
	}

	out, err := os.CreateTemp("", "fieldsync-media-*.jpg")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCompression, "failed to create output file", err)
	}
	if _, err := out.Write(encoded); err != nil {
		out.Close()
		os.Remove(out.Name())
		return nil, apperrors.Wrap(apperrors.ErrCompression, "failed to write output file", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return nil, apperrors.Wrap(apperrors.ErrCompression, "failed to close output file", err)
	}

	prepared := &PreparedMedia{
		Path:           out.Name(),
		OriginalSize:   originalSize,
		CompressedSize: int64(len(encoded)),
	}

	logging.Info("Media prepared",
		map[string]interface{}{
			"original_size":   humanize.Bytes(uint64(prepared.OriginalSize)),
			"compressed_size": humanize.Bytes(uint64(prepared.CompressedSize)),
		})

	return prepared, nil
}

// encodePass resizes img to a bounding width and re-encodes it as JPEG.
func (p *Preparer) encodePass(img image.Image, maxWidth, quality int) ([]byte, error) {
	resized := img
	if img.Bounds().Dx() > maxWidth {
		resized = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCompression, "failed to encode media file", err)
	}
	return buf.Bytes(), nil
}

// IsValidationError reports whether err is a terminal validation failure
// (missing file, oversize, unsupported type) as opposed to a compression
// failure.
func IsValidationError(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrFileMissing, apperrors.ErrFileTooLarge, apperrors.ErrUnsupportedType:
		return true
	}
	return false
}

// localPath strips a file:// scheme from an opaque local content reference.
func localPath(localRef string) string {
	return strings.TrimPrefix(localRef, "file://")
}
