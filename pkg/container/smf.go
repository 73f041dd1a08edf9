package container

import (
	"bytes"
	"fmt"

	"github.com/riffsynth/engine/pkg/result"
)

// minSMFHeaderLen is the minimum byte count required to read a complete
// MThd chunk (spec §8 boundary behavior: shorter than this returns
// BadFile, not MemoryErr).
const minSMFHeaderLen = 14

// SMFHeader holds the decoded MThd fields.
type SMFHeader struct {
	Format     uint16
	TrackCount uint16
	Division   uint16 // PPQN in ticks per quarter note, when bit 15 is clear
}

// validateSMF checks the MThd header length field (must be 6), and that
// every MTrk chunk's declared length stays within the buffer (spec §4.5
// SMF: "Parser must validate header length field (6), track count, and
// per-track length bounds.").
func validateSMF(data []byte) error {
	if len(data) < minSMFHeaderLen {
		return result.New(result.BadFile, "SMF file shorter than minimal MThd header")
	}
	if !bytes.Equal(data[0:4], []byte("MThd")) {
		return result.New(result.BadFile, "missing MThd magic")
	}
	hdrLen := be32(data[4:8])
	if hdrLen != 6 {
		return result.New(result.BadFile, fmt.Sprintf("MThd length field = %d, want 6", hdrLen))
	}

	offset := 14
	for offset < len(data) {
		if offset+8 > len(data) {
			return result.New(result.BadFile, "truncated MTrk chunk header")
		}
		if !bytes.Equal(data[offset:offset+4], []byte("MTrk")) {
			return result.New(result.BadFile, "expected MTrk chunk")
		}
		trackLen := int(be32(data[offset+4 : offset+8]))
		trackEnd := offset + 8 + trackLen
		if trackLen < 0 || trackEnd > len(data) {
			return result.New(result.BadFile, "MTrk length exceeds file bounds")
		}
		offset = trackEnd
	}
	return nil
}

// ParseSMFHeader decodes the MThd fields. Caller must have validated the
// buffer with validateSMF (or equivalent) first.
func ParseSMFHeader(data []byte) (SMFHeader, error) {
	if len(data) < minSMFHeaderLen {
		return SMFHeader{}, result.New(result.BadFile, "SMF file shorter than minimal MThd header")
	}
	return SMFHeader{
		Format:     be16(data[8:10]),
		TrackCount: be16(data[10:12]),
		Division:   be16(data[12:14]),
	}, nil
}

// Tracks returns the raw byte slice of each MTrk chunk's event payload,
// in file order.
func Tracks(data []byte) ([][]byte, error) {
	if err := validateSMF(data); err != nil {
		return nil, err
	}
	var tracks [][]byte
	offset := 14
	for offset < len(data) {
		trackLen := int(be32(data[offset+4 : offset+8]))
		start := offset + 8
		tracks = append(tracks, data[start:start+trackLen])
		offset = start + trackLen
	}
	return tracks, nil
}

func be16(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }
func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ReadVarLen decodes a MIDI Variable-Length Quantity (VLQ) at the start of
// data, returning the value and the number of bytes consumed.
func ReadVarLen(data []byte) (value int, n int) {
	for i := 0; i < len(data) && i < 4; i++ {
		n++
		value = (value << 7) | int(data[i]&0x7F)
		if data[i]&0x80 == 0 {
			break
		}
	}
	return value, n
}
