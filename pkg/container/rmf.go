package container

import (
	"github.com/riffsynth/engine/pkg/result"
)

// rmfHeaderLen is the 12-byte IREZ header: magic(4) + version(4) + total
// resources(4), all big-endian (spec §6 RMF).
const rmfHeaderLen = 12

type rmfResource struct {
	NextOffset uint32
	Type       [4]byte
	ID         uint32
	Name       string
	Data       []byte
}

// parseRMF walks the IREZ linked resource list and extracts SONG, MIDI /
// MIDI_OLD, and instrument resources (spec §4.5 RMF).
func parseRMF(data []byte, ignoreBadInstruments bool) (*Song, error) {
	if len(data) < rmfHeaderLen {
		return nil, result.New(result.BadFile, "RMF file shorter than minimal IREZ header")
	}

	song := &Song{Kind: KindRMF, BankOffset: 1}

	var midiBytes []byte
	var midiOldBytes []byte

	offset := rmfHeaderLen
	for offset < len(data) {
		res, next, err := parseRMFResource(data, offset)
		if err != nil {
			if ignoreBadInstruments {
				break
			}
			return nil, err
		}

		switch string(res.Type[:]) {
		case "SONG":
			song.IsRMFSong = true
			parseRMFSongResource(res.Data, song)
		case "MIDI":
			midiBytes = res.Data
		case "MIDI_OLD":
			midiOldBytes = res.Data
		default:
			// Any other resource type is treated as an instrument asset;
			// its ID is recorded so the channel router can determine
			// whether every instrument the song needs is embedded.
			song.EmbeddedInstrumentIDs = append(song.EmbeddedInstrumentIDs, res.ID)
		}

		if next <= offset {
			// "nextOffset being zero or out-of-range": fall back to
			// advancing by the current resource's size (spec §4.5).
			next = offset + rmfResourceFixedLen(res) + len(res.Data)
		}
		offset = next
	}

	if len(midiBytes) > 0 {
		song.MIDI = midiBytes
	} else if len(midiOldBytes) > 0 {
		song.MIDI = midiOldBytes
	} else {
		return nil, result.New(result.BadFile, "RMF container has no MIDI or MIDI_OLD resource")
	}

	if err := validateSMF(song.MIDI); err != nil {
		return nil, result.Wrap(result.BadFile, "embedded RMF MIDI payload is malformed", err)
	}

	if bank, isSF, ok := findEmbeddedBank(data); ok {
		song.EmbeddedBank = bank
		song.EmbeddedBankIsSF = isSF
	} else {
		song.BankOffset = 0
	}

	return song, nil
}

func rmfResourceFixedLen(res rmfResource) int {
	return 4 + 4 + 4 + 1 + len(res.Name) + 4
}

// parseRMFResource decodes one resource entry at offset:
//
//	{ nextOffset:u32_be, type:[4]u8, id:u32_be, nameLen:u8, name[nameLen], dataLen:u32_be, data[dataLen] }
func parseRMFResource(data []byte, offset int) (rmfResource, int, error) {
	if offset+13 > len(data) {
		return rmfResource{}, 0, result.New(result.BadFile, "truncated RMF resource header")
	}
	var res rmfResource
	res.NextOffset = be32(data[offset : offset+4])
	copy(res.Type[:], data[offset+4:offset+8])
	res.ID = be32(data[offset+8 : offset+12])
	nameLen := int(data[offset+12])
	p := offset + 13
	if p+nameLen > len(data) {
		return rmfResource{}, 0, result.New(result.BadFile, "truncated RMF resource name")
	}
	res.Name = string(data[p : p+nameLen])
	p += nameLen
	if p+4 > len(data) {
		return rmfResource{}, 0, result.New(result.BadFile, "truncated RMF resource length")
	}
	dataLen := int(be32(data[p : p+4]))
	p += 4
	if dataLen < 0 || p+dataLen > len(data) {
		return rmfResource{}, 0, result.New(result.BadFile, "RMF resource data exceeds file bounds")
	}
	res.Data = data[p : p+dataLen]

	return res, int(res.NextOffset), nil
}

// parseRMFSongResource extracts the SONG resource's SF2-routing flag. The
// exact byte layout of BAE's SONG resource is proprietary; this engine
// treats the first flag byte (if present) as a boolean "route through
// SF2/DLS rather than the HSB engine" marker, which is the only bit the
// channel router (spec §4.3) needs from it.
func parseRMFSongResource(data []byte, song *Song) {
	if len(data) >= 1 {
		song.SF2Routed = data[0]&0x01 != 0
	}
	if len(data) >= 8 {
		song.LoopStartTick = int(be32(data[4:8]))
	}
}
