package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"

	"douyindl/internal/errs"
)

const (
	boxHeaderSize = 8
	// Bytes of a version 0 tkhd body before the matrix; version 1 adds 12.
	tkhdPrefixV0 = 4 + 4 + 4 + 4 + 4 + 4 + 8 + 2 + 2 + 2 + 2
	tkhdPrefixV1 = tkhdPrefixV0 + 12
	matrixSize   = 9 * 4
	fixed16      = 1 << 16
)

// MP4 reads track header boxes directly from ISO BMFF files.
type MP4 struct {
	fs afero.Fs
}

// NewMP4 creates a reader over fs.
func NewMP4(fs afero.Fs) *MP4 {
	return &MP4{fs: fs}
}

// Dimensions returns the display size of the first track with a non-zero size,
// with width and height exchanged for 90 and 270 degree rotations.
func (m *MP4) Dimensions(_ context.Context, path string) (int, int, error) {
	f, err := m.fs.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat: %w", err)
	}

	moov, ok, err := findBox(f, 0, info.Size(), "moov")
	if err != nil {
		return 0, 0, err
	}

	if !ok {
		return 0, 0, fmt.Errorf("%w: no moov box", errs.ErrProbeUnsupported)
	}

	var found bool

	var w, h int

	err = eachBox(f, moov.start, moov.end, func(b box) (bool, error) {
		if b.typ != "trak" {
			return true, nil
		}

		tkhd, ok, err := findBox(f, b.start, b.end, "tkhd")
		if err != nil || !ok {
			return err == nil, err
		}

		tw, th, err := readTkhd(f, tkhd)
		if err != nil {
			return false, err
		}

		if tw > 0 && th > 0 {
			w, h, found = tw, th, true

			return false, nil
		}

		return true, nil
	})
	if err != nil {
		return 0, 0, err
	}

	if !found {
		return 0, 0, errs.ErrNoVideoTrack
	}

	return w, h, nil
}

type box struct {
	typ   string
	start int64 // first byte of the body
	end   int64
}

func findBox(r io.ReadSeeker, start, end int64, typ string) (box, bool, error) {
	var (
		out   box
		found bool
	)

	err := eachBox(r, start, end, func(b box) (bool, error) {
		if b.typ == typ {
			out, found = b, true

			return false, nil
		}

		return true, nil
	})

	return out, found, err
}

// eachBox walks sibling boxes in [start, end). fn returns false to stop.
func eachBox(r io.ReadSeeker, start, end int64, fn func(box) (bool, error)) error {
	pos := start

	for pos+boxHeaderSize <= end {
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return fmt.Errorf("seek: %w", err)
		}

		var hdr [boxHeaderSize]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return fmt.Errorf("%w: read box header: %w", errs.ErrProbeUnsupported, err)
		}

		size := int64(binary.BigEndian.Uint32(hdr[:4]))
		body := pos + boxHeaderSize

		switch size {
		case 0:
			size = end - pos
		case 1:
			var large [8]byte
			if _, err := io.ReadFull(r, large[:]); err != nil {
				return fmt.Errorf("%w: read large size: %w", errs.ErrProbeUnsupported, err)
			}

			size = int64(binary.BigEndian.Uint64(large[:]))
			body += 8
		}

		if size < body-pos || pos+size > end {
			return fmt.Errorf("%w: box %q overruns its parent", errs.ErrProbeUnsupported, string(hdr[4:]))
		}

		next, err := fn(box{typ: string(hdr[4:]), start: body, end: pos + size})
		if err != nil || !next {
			return err
		}

		pos += size
	}

	return nil
}

func readTkhd(r io.ReadSeeker, b box) (int, int, error) {
	if _, err := r.Seek(b.start, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("seek: %w", err)
	}

	body := make([]byte, b.end-b.start)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, 0, fmt.Errorf("%w: read tkhd: %w", errs.ErrProbeUnsupported, err)
	}

	if len(body) == 0 {
		return 0, 0, errors.New("empty tkhd")
	}

	prefix := tkhdPrefixV0
	if body[0] == 1 {
		prefix = tkhdPrefixV1
	}

	if len(body) < prefix+matrixSize+8 {
		return 0, 0, fmt.Errorf("%w: short tkhd", errs.ErrProbeUnsupported)
	}

	matrix := body[prefix : prefix+matrixSize]
	a := int32(binary.BigEndian.Uint32(matrix[0:4]))
	bb := int32(binary.BigEndian.Uint32(matrix[4:8]))
	d := int32(binary.BigEndian.Uint32(matrix[16:20]))

	size := body[prefix+matrixSize:]
	w := int(binary.BigEndian.Uint32(size[0:4]) / fixed16)
	h := int(binary.BigEndian.Uint32(size[4:8]) / fixed16)

	if a == 0 && d == 0 && bb != 0 {
		w, h = h, w
	}

	return w, h, nil
}
