package header

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beam-cloud/tarstream/pkg/common"
)

// Block is one encoded GNU tar header.
type Block [common.BlockSize]byte

// Field offsets of the GNU header layout.
const (
	nameOff     = 0
	modeOff     = 100
	uidOff      = 108
	gidOff      = 116
	sizeOff     = 124
	mtimeOff    = 136
	chksumOff   = 148
	typeflagOff = 156
	magicOff    = 257

	modeLen   = 8
	idLen     = 8
	sizeLen   = 12
	mtimeLen  = 12
	chksumLen = 8
)

const (
	typeReg  = '0'
	gnuMagic = "ustar  \x00"
)

// Build encodes the header block for a regular file called name holding
// size bytes, stamped with mtime.
func Build(name string, size int64, mtime time.Time) (Block, error) {
	var b Block

	if err := ValidateName(name); err != nil {
		return b, err
	}
	if size < 0 {
		return b, fmt.Errorf("negative size %d for %s", size, name)
	}
	secs := mtime.Unix()
	if secs < 0 || !fitsOctal(secs, mtimeLen) {
		return b, fmt.Errorf("%w: %s", common.ErrClock, mtime.UTC().Format(time.RFC3339))
	}

	copy(b[nameOff:nameOff+common.NameSize], name)
	formatOctal(b[modeOff:modeOff+modeLen], common.DefaultMode)
	formatOctal(b[uidOff:uidOff+idLen], 0)
	formatOctal(b[gidOff:gidOff+idLen], 0)
	formatNumeric(b[sizeOff:sizeOff+sizeLen], size)
	formatOctal(b[mtimeOff:mtimeOff+mtimeLen], secs)
	b[typeflagOff] = typeReg
	copy(b[magicOff:], gnuMagic)

	// Checksum field counts as spaces while summing.
	copy(b[chksumOff:chksumOff+chksumLen], "        ")
	sum := Checksum(b[:])
	copy(b[chksumOff:chksumOff+chksumLen], fmt.Sprintf("%06o\x00 ", sum))

	return b, nil
}

// ValidateName reports whether name fits the header's name field. Names
// may be relative paths such as "sub/f" but cannot escape the archive root.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", common.ErrEncoding)
	case len(name) > common.NameSize:
		return fmt.Errorf("%w: %q is %d bytes, limit is %d", common.ErrEncoding, name, len(name), common.NameSize)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: %q contains NUL", common.ErrEncoding, name)
	case strings.HasPrefix(name, "/"):
		return fmt.Errorf("%w: %q is an absolute path", common.ErrEncoding, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q contains a parent directory component", common.ErrEncoding, name)
		}
	}
	return nil
}

// Checksum is the unsigned byte sum of a header block.
func Checksum(b []byte) uint32 {
	var sum uint32
	for _, c := range b {
		sum += uint32(c)
	}
	return sum
}

// fitsOctal reports whether x can be written as octal digits in a field of
// n bytes, leaving room for the NUL terminator.
func fitsOctal(x int64, n int) bool {
	return x >= 0 && (n >= 22 || x < 1<<(3*(n-1)))
}

// formatOctal writes x zero-padded to len(b)-1 digits followed by NUL.
func formatOctal(b []byte, x int64) {
	s := strconv.FormatInt(x, 8)
	if pad := len(b) - 1 - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	copy(b, s+"\x00")
}

// formatNumeric writes x as octal when it fits, otherwise as GNU base-256:
// high bit of the first byte set, big-endian value in the rest.
func formatNumeric(b []byte, x int64) {
	if fitsOctal(x, len(b)) {
		formatOctal(b, x)
		return
	}
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(x)
		x >>= 8
	}
	b[0] |= 0x80
}
