package checkpoint

import "errors"

const (
	// MagicNumber identifies harmonic checkpoint files (ASCII: "HME1").
	MagicNumber = 0x484D4531

	// Version is the current file format version (v1.0). The high 16
	// bits are the major version; files from the same major are
	// forward-readable.
	Version = 0x00010000
)

var (
	// ErrCorruptCheckpoint is returned for malformed or incompatible
	// checkpoint data. All structural failures wrap it.
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

	// ErrInvalidMagic indicates data that is not a harmonic checkpoint.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrInvalidVersion indicates a checkpoint from an incompatible
	// format major version.
	ErrInvalidVersion = errors.New("unsupported format version")

	// ErrChecksumMismatch indicates body corruption.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// fileHeader is the fixed 36-byte header at the start of every
// checkpoint.
type fileHeader struct {
	Magic    uint32 // 0x484D4531 ("HME1")
	Version  uint32 // Format version
	Codec    uint8  // Body compression codec
	ModelTag uint8  // Model variant tag
	Padding1 [2]byte
	NDim     uint32 // Sample dimensionality
	NChains  uint32 // Expected chains per batch (hint)
	BodyLen  uint64 // Compressed body length in bytes
	Checksum uint32 // CRC32 (IEEE) of the uncompressed body
	Padding2 [4]byte
}
