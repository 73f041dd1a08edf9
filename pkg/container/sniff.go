// Package container parses the file formats the engine accepts as song
// data: Standard MIDI Files, RMF resource maps, RMI (RIFF-MIDI), and
// XMF/MXMF packed containers (spec §4.5, §6), plus discovery of an
// embedded SF2/DLS SoundFont inside any of them.
package container

import (
	"bytes"

	"github.com/riffsynth/engine/pkg/result"
)

// Kind identifies which container format Sniff detected.
type Kind int

const (
	KindUnknown Kind = iota
	KindSMF
	KindRMF
	KindRMI
	KindXMF1
	KindMXMF
)

// Sniff classifies raw bytes by magic, per spec §4.8 Song_LoadFromMemory:
// "sniffs magic: MThd -> SMF; IREZ -> RMF; RIFF...RMID -> RMI;
// XMF_1.00/XMF_2.00 -> XMF; otherwise error."
func Sniff(data []byte) (Kind, error) {
	switch {
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("MThd")):
		return KindSMF, nil
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte("IREZ")):
		return KindRMF, nil
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("RMID")):
		return KindRMI, nil
	case len(data) >= 8 && bytes.Equal(data[0:8], []byte("XMF_1.00")):
		return KindXMF1, nil
	case len(data) >= 8 && bytes.Equal(data[0:8], []byte("XMF_2.00")):
		return KindMXMF, nil
	default:
		return KindUnknown, result.New(result.BadFileType, "unrecognized container magic")
	}
}

// Song is the normalized result of loading any container: the extracted
// SMF payload plus optional embedded bank bytes and metadata. The
// sequencer and bank resolver operate only on this type, not on any
// specific container format.
type Song struct {
	Kind Kind

	MIDI []byte // extracted Standard MIDI File payload

	// EmbeddedBank is a nested SF2 (RIFF sfbk) or DLS (RIFF DLS ) overlay
	// discovered inside the container, or nil.
	EmbeddedBank     []byte
	EmbeddedBankIsSF bool // true = SF2, false = DLS

	// EmbeddedInstrumentIDs are the instrument resource IDs an RMF
	// container declares, used by the channel router to decide whether
	// "all instruments embedded as RMF samples" the HSB engine can play
	// (spec §4.3 routing decision).
	EmbeddedInstrumentIDs []uint32

	// BankOffset is the XMF/RMI bank-offset default, resolved per spec
	// §3.2/§9 Open Question: "default is 1 when an embedded bank is
	// loaded and DBNK is absent; 0 otherwise."
	BankOffset int

	// IsRMFSong marks a container-declared RMF SONG resource type (vs. a
	// bare MIDI resource), and whether the resource flags mark it as
	// SF2-routed (spec §4.5 RMF SONG resource fields).
	IsRMFSong  bool
	SF2Routed  bool
	LoopStartTick int

	Title     string
	Artist    string
	Copyright string

	// bankOffsetFromDBNK marks that BankOffset came from an explicit RMI
	// DBNK tag, so the no-embedded-bank fallback in parseRMI doesn't
	// clobber it back to 0 (spec §4.5 RMI "DBNK... overrides the default").
	bankOffsetFromDBNK bool
}

// LoadFromMemory sniffs and parses data into a normalized Song, dispatching
// to the format-specific parser. ignoreBadInstruments is passed only to the
// RMF parser, where a malformed resource ends the resource walk instead of
// failing the load; the RMI and XMF parsers do not take it.
func LoadFromMemory(data []byte, ignoreBadInstruments bool) (*Song, error) {
	kind, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindSMF:
		if err := validateSMF(data); err != nil {
			return nil, err
		}
		return &Song{Kind: KindSMF, MIDI: data, BankOffset: 0}, nil
	case KindRMF:
		return parseRMF(data, ignoreBadInstruments)
	case KindRMI:
		return parseRMI(data)
	case KindXMF1:
		return parseXMF1(data)
	case KindMXMF:
		return parseMXMF(data)
	default:
		return nil, result.New(result.BadFileType, "unreachable: unknown kind after Sniff")
	}
}
