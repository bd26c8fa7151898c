package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/harmonic/evidence"
	"github.com/hupe1980/harmonic/model"
)

// Encode writes a snapshot to w in the checkpoint format, compressing
// the body with the given codec.
func Encode(w io.Writer, snap *evidence.Snapshot, codec Codec) error {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, uint64(len(snap.ModelParams))); err != nil {
		return err
	}
	body.Write(snap.ModelParams)
	if err := binary.Write(&body, binary.LittleEndian, uint64(len(snap.Stats))); err != nil {
		return err
	}
	for _, s := range snap.Stats {
		if err := binary.Write(&body, binary.LittleEndian, s.LnMeanRatio); err != nil {
			return err
		}
		if err := binary.Write(&body, binary.LittleEndian, s.N); err != nil {
			return err
		}
	}

	raw := body.Bytes()
	compressed, err := codec.compress(raw)
	if err != nil {
		return err
	}

	header := fileHeader{
		Magic:    MagicNumber,
		Version:  Version,
		Codec:    uint8(codec),
		ModelTag: snap.ModelTag,
		NDim:     uint32(snap.NDim),
		NChains:  uint32(snap.NChainsHint),
		BodyLen:  uint64(len(compressed)),
		Checksum: crc32.ChecksumIEEE(raw),
	}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	_, err = w.Write(compressed)
	return err
}

// Decode reads a snapshot from r, failing with ErrCorruptCheckpoint for
// any structural violation: wrong magic, incompatible major version,
// truncated body, checksum mismatch or inconsistent lengths.
func Decode(r io.Reader) (*evidence.Snapshot, error) {
	var header fileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, corrupt("header", err)
	}
	if header.Magic != MagicNumber {
		return nil, corrupt(fmt.Sprintf("got magic 0x%08x", header.Magic), ErrInvalidMagic)
	}
	if header.Version>>16 != Version>>16 {
		return nil, corrupt(fmt.Sprintf("got version 0x%08x, want major %d", header.Version, Version>>16), ErrInvalidVersion)
	}
	if header.NDim == 0 {
		return nil, corrupt("zero dimension", nil)
	}
	if header.NChains == 0 {
		return nil, corrupt("zero chain hint", nil)
	}

	compressed := make([]byte, header.BodyLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, corrupt("truncated body", err)
	}
	raw, err := Codec(header.Codec).decompress(compressed)
	if err != nil {
		return nil, corrupt("decompress body", err)
	}
	if crc32.ChecksumIEEE(raw) != header.Checksum {
		return nil, corrupt("body", ErrChecksumMismatch)
	}

	br := bytes.NewReader(raw)
	var paramsLen uint64
	if err := binary.Read(br, binary.LittleEndian, &paramsLen); err != nil {
		return nil, corrupt("model parameter length", err)
	}
	if paramsLen > uint64(br.Len()) {
		return nil, corrupt(fmt.Sprintf("model parameter blob of %d bytes exceeds body", paramsLen), nil)
	}
	params := make([]byte, paramsLen)
	if _, err := io.ReadFull(br, params); err != nil {
		return nil, corrupt("model parameters", err)
	}
	// The header dimension is redundant with the embedded model
	// parameters; a disagreement means the file is damaged.
	m, err := model.FromTag(header.ModelTag, params)
	if err != nil {
		return nil, corrupt("model parameters", err)
	}
	if m.Dim() != int(header.NDim) {
		return nil, corrupt(fmt.Sprintf("header dimension %d, model dimension %d", header.NDim, m.Dim()), nil)
	}

	var statCount uint64
	if err := binary.Read(br, binary.LittleEndian, &statCount); err != nil {
		return nil, corrupt("chain statistic count", err)
	}
	if statCount*16 != uint64(br.Len()) {
		return nil, corrupt(fmt.Sprintf("%d chain statistics do not fit remaining %d bytes", statCount, br.Len()), nil)
	}
	stats := make([]evidence.ChainStat, statCount)
	for i := range stats {
		if err := binary.Read(br, binary.LittleEndian, &stats[i].LnMeanRatio); err != nil {
			return nil, corrupt("chain statistics", err)
		}
		if err := binary.Read(br, binary.LittleEndian, &stats[i].N); err != nil {
			return nil, corrupt("chain statistics", err)
		}
	}

	return &evidence.Snapshot{
		NDim:        int(header.NDim),
		NChainsHint: int(header.NChains),
		ModelTag:    header.ModelTag,
		ModelParams: params,
		Stats:       stats,
	}, nil
}

func corrupt(what string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrCorruptCheckpoint, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrCorruptCheckpoint, what, cause)
}
