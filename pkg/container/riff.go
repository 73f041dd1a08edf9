package container

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/riffsynth/engine/pkg/result"
)

// riffChunk is a minimal RIFF chunk reader, grounded in the pack's SF2
// RIFF-chunk walker: id(4) + size(4, little-endian) + data, padded to an
// even byte boundary.
type riffChunk struct {
	ID   [4]byte
	Data []byte
}

// walkRIFF iterates the top-level chunks of a RIFF-family container
// (everything after the initial "RIFF" + size + form-type), invoking fn
// for each. fn returning an error stops the walk.
func walkRIFF(data []byte, fn func(id [4]byte, chunkData []byte) error) error {
	offset := 0
	for offset+8 <= len(data) {
		var ck riffChunk
		copy(ck.ID[:], data[offset:offset+4])
		size := int(le32(data[offset+4 : offset+8]))
		start := offset + 8
		if size < 0 || start+size > len(data) {
			return result.New(result.BadFile, "RIFF chunk size exceeds buffer")
		}
		ck.Data = data[start : start+size]
		if err := fn(ck.ID, ck.Data); err != nil {
			return err
		}
		offset = start + size
		if offset%2 == 1 {
			offset++ // word alignment padding
		}
	}
	return nil
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// parseRMI decodes a RIFF+RMID wrapper: mandatory "data" chunk (SMF
// payload), optional "LIST INFO" metadata, optional nested RIFF sfbk/DLS
// (spec §4.5, §6 RMI).
func parseRMI(data []byte) (*Song, error) {
	if len(data) < 12 {
		return nil, result.New(result.BadFile, "RMI file shorter than minimal RIFF header")
	}

	song := &Song{Kind: KindRMI, BankOffset: 1}
	body := data[12:]

	var midi []byte
	err := walkRIFF(body, func(id [4]byte, chunkData []byte) error {
		switch string(id[:]) {
		case "data":
			midi = chunkData
		case "LIST":
			parseRMIList(chunkData, song)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(midi) == 0 {
		return nil, result.New(result.BadFile, "RMI container has no data chunk")
	}
	if err := validateSMF(midi); err != nil {
		return nil, result.Wrap(result.BadFile, "embedded RMI MIDI payload is malformed", err)
	}
	song.MIDI = midi

	if bank, isSF, ok := findEmbeddedBank(body); ok {
		song.EmbeddedBank = bank
		song.EmbeddedBankIsSF = isSF
	} else if !song.bankOffsetFromDBNK {
		song.BankOffset = 0
	}
	return song, nil
}

// parseRMIList decodes a "LIST INFO" chunk's tag sub-chunks: INAM, IART,
// ICOP, DBNK (2-byte LE bank offset override, 0..127), IENC/MENC text
// encoding. IENC/MENC hold an ASCII charset label (e.g. "windows-1252",
// "Shift_JIS") naming the encoding the other tag strings were written in;
// collected in a first pass since RIFF does not guarantee sub-chunk order.
func parseRMIList(listData []byte, song *Song) {
	if len(listData) < 4 || string(listData[0:4]) != "INFO" {
		return
	}
	body := listData[4:]

	raw := map[string][]byte{}
	_ = walkRIFF(body, func(id [4]byte, chunkData []byte) error {
		raw[string(id[:])] = chunkData
		return nil
	})

	dec := textDecoderFor(raw["IENC"])
	if dec == nil {
		dec = textDecoderFor(raw["MENC"])
	}
	song.Title = decodeTag(dec, raw["INAM"])
	song.Artist = decodeTag(dec, raw["IART"])
	song.Copyright = decodeTag(dec, raw["ICOP"])
	if chunkData, ok := raw["DBNK"]; ok && len(chunkData) >= 2 {
		v := int(le16(chunkData[0:2]))
		if v >= 0 && v <= 127 {
			song.BankOffset = v
			song.bankOffsetFromDBNK = true
		}
	}
}

// textDecoderFor resolves an IENC/MENC charset label to a decoder. Returns
// nil for an absent tag or a label htmlindex doesn't recognize, in which
// case decodeTag passes the tag bytes through as-is (the common ASCII
// case).
func textDecoderFor(tag []byte) *encoding.Decoder {
	name := trimNul(tag)
	if name == "" {
		return nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil
	}
	return enc.NewDecoder()
}

func decodeTag(dec *encoding.Decoder, chunkData []byte) string {
	s := trimNul(chunkData)
	if dec == nil || s == "" {
		return s
	}
	if out, err := dec.String(s); err == nil {
		return out
	}
	return s
}

func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// findEmbeddedBank scans raw for a nested RIFF of subtype "sfbk" (SF2) or
// "DLS " (DLS Level 1/2). Per spec §4.5: pick the candidate with the
// largest size; prefer DLS only if it contains a "wvpl" chunk and its
// total size exceeds 32KiB.
func findEmbeddedBank(raw []byte) (bank []byte, isSF bool, ok bool) {
	type candidate struct {
		data []byte
		isSF bool
		hasWvpl bool
	}
	var candidates []candidate

	idx := 0
	for {
		pos := bytes.Index(raw[idx:], []byte("RIFF"))
		if pos < 0 {
			break
		}
		start := idx + pos
		if start+12 > len(raw) {
			break
		}
		size := int(le32(raw[start+4 : start+8]))
		end := start + 8 + size
		if size < 4 || end > len(raw) {
			idx = start + 4
			continue
		}
		subtype := string(raw[start+8 : start+12])
		full := raw[start:end]
		switch subtype {
		case "sfbk":
			candidates = append(candidates, candidate{data: full, isSF: true})
		case "DLS ":
			candidates = append(candidates, candidate{data: full, isSF: false, hasWvpl: bytes.Contains(full, []byte("wvpl"))})
		}
		idx = start + 4
	}

	if len(candidates) == 0 {
		return nil, false, false
	}

	qualifies := func(c candidate) bool {
		return c.isSF || (c.hasWvpl && len(c.data) > 32*1024)
	}

	var best *candidate
	for i := range candidates {
		c := &candidates[i]
		if !qualifies(*c) {
			continue
		}
		if best == nil || len(c.data) > len(best.data) {
			best = c
		}
	}
	if best == nil {
		// No candidate meets the DLS qualification bar; fall back to the
		// largest candidate of any kind rather than finding nothing.
		best = &candidates[0]
		for i := range candidates[1:] {
			c := &candidates[i+1]
			if len(c.data) > len(best.data) {
				best = c
			}
		}
	}
	return best.data, best.isSF, true
}

// inflateZlib wraps compress/zlib for the XMF/MXMF unpacker (spec §4.5
// "try... zlib/gzip inflate").
func inflateZlib(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, 64*1024*1024))
}

// inflateGzip wraps compress/gzip for MXMF scan hits whose header is a
// gzip member rather than a raw zlib stream.
func inflateGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, 64*1024*1024))
}

// inflateRawDeflate tries a headerless DEFLATE stream starting at the given
// offset into data, for XMF packers that omit the zlib/gzip wrapper (spec
// §4.5 "raw-deflate-at-offset-0/raw-deflate-at-offset-2").
func inflateRawDeflate(data []byte, offset int) ([]byte, error) {
	if offset >= len(data) {
		return nil, result.New(result.BadFile, "raw deflate offset exceeds buffer")
	}
	r := flate.NewReader(bytes.NewReader(data[offset:]))
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, 64*1024*1024))
	if err != nil || len(out) == 0 {
		return nil, result.New(result.BadFile, "raw deflate stream did not decode")
	}
	return out, nil
}
