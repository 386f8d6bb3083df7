// Package tiffmeta reads the handful of baseline TIFF tags pado needs from
// the first image file directory: dimensions, description, make and
// resolution.
package tiffmeta

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotTIFF = errors.New("not a tiff file")
var ErrUnsupported = errors.New("unsupported tiff variant")

const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagImageDescription = 270
	tagMake             = 271
	tagXResolution      = 282
	tagYResolution      = 283
	tagResolutionUnit   = 296
)

const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
)

const (
	UnitNone       = 1
	UnitInch       = 2
	UnitCentimeter = 3
)

type Tags struct {
	Width          uint32
	Height         uint32
	Description    string
	Make           string
	XResolution    float64
	YResolution    float64
	ResolutionUnit uint16
}

// MPP converts the resolution tags to microns per pixel.
func (t *Tags) MPP() (float64, float64, bool) {
	if t.XResolution <= 0 || t.YResolution <= 0 {
		return 0, 0, false
	}

	var micronsPerUnit float64
	switch t.ResolutionUnit {
	case UnitInch:
		micronsPerUnit = 25400
	case UnitCentimeter:
		micronsPerUnit = 10000
	default:
		return 0, 0, false
	}

	return micronsPerUnit / t.XResolution, micronsPerUnit / t.YResolution, true
}

// Read parses the first IFD of the TIFF file in r.
func Read(r io.ReaderAt) (*Tags, error) {
	var header [8]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return nil, errors.Wrap(ErrNotTIFF, "short header")
	}

	var bo binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}

	switch bo.Uint16(header[2:4]) {
	case 42:
	case 43:
		return nil, errors.Wrap(ErrUnsupported, "bigtiff")
	default:
		return nil, ErrNotTIFF
	}

	offset := int64(bo.Uint32(header[4:8]))

	var countBuf [2]byte
	if _, err := r.ReadAt(countBuf[:], offset); err != nil {
		return nil, errors.Wrapf(ErrNotTIFF, "could not read ifd at %d", offset)
	}

	n := int(bo.Uint16(countBuf[:]))
	entries := make([]byte, n*12)
	if _, err := r.ReadAt(entries, offset+2); err != nil {
		return nil, errors.Wrapf(ErrNotTIFF, "could not read %d ifd entries", n)
	}

	t := &Tags{ResolutionUnit: UnitInch}
	for i := 0; i < n; i++ {
		e := entries[i*12 : (i+1)*12]
		tag := bo.Uint16(e[0:2])
		dt := bo.Uint16(e[2:4])
		count := bo.Uint32(e[4:8])
		value := e[8:12]

		switch tag {
		case tagImageWidth:
			t.Width = integer(bo, dt, value)
		case tagImageLength:
			t.Height = integer(bo, dt, value)
		case tagResolutionUnit:
			t.ResolutionUnit = uint16(integer(bo, dt, value))
		case tagImageDescription, tagMake:
			s, err := ascii(r, bo, dt, count, value)
			if err != nil {
				return nil, err
			}
			if tag == tagMake {
				t.Make = s
			} else {
				t.Description = s
			}
		case tagXResolution, tagYResolution:
			f, err := rational(r, bo, dt, value)
			if err != nil {
				return nil, err
			}
			if tag == tagXResolution {
				t.XResolution = f
			} else {
				t.YResolution = f
			}
		}
	}

	return t, nil
}

func integer(bo binary.ByteOrder, dt uint16, value []byte) uint32 {
	switch dt {
	case dtByte:
		return uint32(value[0])
	case dtShort:
		return uint32(bo.Uint16(value[0:2]))
	default:
		return bo.Uint32(value)
	}
}

func ascii(r io.ReaderAt, bo binary.ByteOrder, dt uint16, count uint32, value []byte) (string, error) {
	if dt != dtASCII {
		return "", nil
	}

	var b []byte
	if count <= 4 {
		b = value[:count]
	} else {
		b = make([]byte, count)
		if _, err := r.ReadAt(b, int64(bo.Uint32(value))); err != nil {
			return "", errors.Wrap(ErrNotTIFF, "could not read ascii tag")
		}
	}

	return strings.TrimRight(string(b), "\x00"), nil
}

func rational(r io.ReaderAt, bo binary.ByteOrder, dt uint16, value []byte) (float64, error) {
	if dt != dtRational {
		return float64(integer(bo, dt, value)), nil
	}

	var b [8]byte
	if _, err := r.ReadAt(b[:], int64(bo.Uint32(value))); err != nil {
		return 0, errors.Wrap(ErrNotTIFF, "could not read rational tag")
	}

	num, den := bo.Uint32(b[0:4]), bo.Uint32(b[4:8])
	if den == 0 {
		return 0, nil
	}
	return float64(num) / float64(den), nil
}
