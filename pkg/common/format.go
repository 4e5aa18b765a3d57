package common

/*

A stream is a sequence of 512-byte blocks:

	Header  [BlockSize]byte       one per file, GNU flavor
	Content []byte                file bytes, zero-padded to BlockSize
	...
	Trailer [2 * BlockSize]byte   all zero

*/

const (
	BlockSize   = 512
	BufferSize  = 16 * BlockSize // content chunk ceiling, always block aligned
	TrailerSize = 2 * BlockSize
	NameSize    = 100
	DefaultMode = 0o644
)

// PaddedSize returns n rounded up to the next multiple of BlockSize.
func PaddedSize(n int64) int64 {
	if rem := n % BlockSize; rem != 0 {
		return n + BlockSize - rem
	}
	return n
}

// EntrySize returns the bytes one file occupies in a stream, header included.
func EntrySize(size int64) int64 {
	return BlockSize + PaddedSize(size)
}
