package pado

import "github.com/pkg/errors"

// ErrInvalidMode is returned by ParseMode for strings that are not a Mode.
var ErrInvalidMode = errors.New("invalid dataset mode")

// Mode is the way a dataset is opened.
//
//	r   existing dataset, read only
//	r+  existing dataset, read and write
//	w   create or truncate
//	a   create if missing
//	x   create, the dataset must not exist
//
// w, a and x are always writable, their "+" variants behave identically.
type Mode string

// Modes accepted by Open, see Mode.
const (
	ModeRead          Mode = "r"
	ModeReadWrite     Mode = "r+"
	ModeWrite         Mode = "w"
	ModeWritePlus     Mode = "w+"
	ModeAppend        Mode = "a"
	ModeAppendPlus    Mode = "a+"
	ModeExclusive     Mode = "x"
	ModeExclusivePlus Mode = "x+"
)

// ParseMode returns the Mode spelled s, or an error wrapping ErrInvalidMode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeRead, ModeReadWrite, ModeWrite, ModeWritePlus, ModeAppend, ModeAppendPlus, ModeExclusive, ModeExclusivePlus:
		return m, nil
	default:
		return "", errors.Wrapf(ErrInvalidMode, "%q", s)
	}
}

// ReadOnly reports whether datasets opened with m reject writes.
func (m Mode) ReadOnly() bool {
	return m == ModeRead
}

func (m Mode) mustExist() bool {
	return m == ModeRead || m == ModeReadWrite
}

func (m Mode) mustNotExist() bool {
	return m == ModeExclusive || m == ModeExclusivePlus
}

// truncate modes start from an empty dataset and may overwrite stores.
func (m Mode) truncate() bool {
	return m == ModeWrite || m == ModeWritePlus
}
