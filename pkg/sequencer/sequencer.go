// Package sequencer converts a Song's MIDI event stream into timed
// dispatches to a channel.Router, implementing delta-time decoding,
// tempo/loop handling, and preroll/seek (spec §4.2).
package sequencer

import (
	"github.com/riffsynth/engine/pkg/channel"
	"github.com/riffsynth/engine/pkg/container"
)

// LoopInfinite is the GM convention for "loop forever" (spec §8 property
// 12: "Loop count 0 plays once; 32767 plays indefinitely until Stop.").
const LoopInfinite = 32767

const defaultTempoUSPerQuarter = 500000 // 120 BPM

// mode selects how events are dispatched during Advance: normal playback,
// a silent scan that only tracks elapsed time (length discovery), or a
// preroll/seek replay that dispatches program changes and velocity-0
// note-ons to rebuild controller state without producing sound (spec
// §4.2 "Preroll").
type mode int

const (
	modeNormal mode = iota
	modeScan
	modePreroll
)

type trackCursor struct {
	data        []byte
	pos         int
	lastAbsTick int
	nextAbsTick int
	hasPending  bool
	done        bool
	runningStat byte
}

func (tr *trackCursor) ensurePending() {
	if tr.hasPending || tr.done {
		return
	}
	if tr.pos >= len(tr.data) {
		tr.done = true
		return
	}
	delta, n := container.ReadVarLen(tr.data[tr.pos:])
	tr.pos += n
	tr.nextAbsTick = tr.lastAbsTick + delta
	tr.hasPending = true
}

// Song drives one Standard MIDI File's tracks against a channel.Router
// (spec §4.2 "Input data model").
type Song struct {
	SongID uint64
	PPQN   int
	Format uint16

	Router *channel.Router

	tracks []*trackCursor

	tick      int
	currentUS int64

	tempoUSPerQuarter int

	// LoopCount: 0 = play once, LoopInfinite = forever, else explicit
	// remaining-play count (spec §8 property 12).
	LoopCount int
	// LoopStartTick is the RMF SONG resource's explicit loop-start tick
	// (0 for plain SMF/RMI; spec.md §4.2 does not define this field, it
	// is a SPEC_FULL.md §5.2 addition grounded in original_source's
	// GenRMI.c/GenXMF.c loop-point handling).
	LoopStartTick int

	Finished  bool
	Suspended bool

	OnLyric  func(text string)
	OnMarker func(text string)
	OnText   func(text string)

	mode mode
}

// NewSong builds a Song from normalized container tracks.
func NewSong(songID uint64, ppqn int, format uint16, trackData [][]byte, router *channel.Router) *Song {
	s := &Song{
		SongID:            songID,
		PPQN:              ppqn,
		Format:            format,
		Router:            router,
		tempoUSPerQuarter: defaultTempoUSPerQuarter,
	}
	for _, d := range trackData {
		s.tracks = append(s.tracks, &trackCursor{data: d})
	}
	return s
}

// FromContainerSong builds a Song directly from a parsed container.Song,
// decoding its SMF payload's tracks.
func FromContainerSong(songID uint64, cs *container.Song, router *channel.Router) (*Song, error) {
	hdr, err := container.ParseSMFHeader(cs.MIDI)
	if err != nil {
		return nil, err
	}
	tracks, err := container.Tracks(cs.MIDI)
	if err != nil {
		return nil, err
	}
	s := NewSong(songID, int(hdr.Division), hdr.Format, tracks, router)
	s.LoopStartTick = cs.LoopStartTick
	return s, nil
}

func (s *Song) usPerTick() int64 {
	if s.PPQN <= 0 {
		return 0
	}
	return int64(s.tempoUSPerQuarter) / int64(s.PPQN)
}

// SliceMicros computes the duration a frame_count-frame slice spans in
// microseconds (spec §4.2 step 1, shared with the mixer's identical
// computation in spec §8 property 2).
func SliceMicros(frameCount, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(frameCount) * 1_000_000 / int64(sampleRate)
}

// Advance runs the sequencer forward by one slice's worth of time,
// dispatching every event whose absolute time falls within the window
// (spec §4.2 "Per-slice work").
func (s *Song) Advance(frameCount, sampleRate int) {
	if s.Finished || s.Suspended {
		return
	}
	target := s.currentUS + SliceMicros(frameCount, sampleRate)
	s.runUntil(target)
}

func (s *Song) runUntil(target int64) {
	for {
		minTick := -1
		anyPending := false
		for _, tr := range s.tracks {
			if tr.done {
				continue
			}
			tr.ensurePending()
			if tr.done {
				continue
			}
			anyPending = true
			if minTick < 0 || tr.nextAbsTick < minTick {
				minTick = tr.nextAbsTick
			}
		}
		if !anyPending {
			if s.allTracksDone() {
				s.onEndOfSong()
				if s.Finished {
					return
				}
				continue // looped: cursors reset, keep draining this window
			}
			return
		}

		absUS := s.currentUS + int64(minTick-s.tick)*s.usPerTick()
		if absUS > target {
			break
		}
		s.currentUS = absUS
		s.tick = minTick

		for _, tr := range s.tracks {
			if tr.done || !tr.hasPending || tr.nextAbsTick != minTick {
				continue
			}
			tr.lastAbsTick = minTick
			tr.hasPending = false
			s.dispatch(tr)
		}
	}

	dtTicks := int64(0)
	if upt := s.usPerTick(); upt > 0 {
		dtTicks = (target - s.currentUS) / upt
	}
	s.tick += int(dtTicks)
	s.currentUS = target
}

func (s *Song) allTracksDone() bool {
	for _, tr := range s.tracks {
		if !tr.done {
			return false
		}
	}
	return true
}

// onEndOfSong implements the loop/finish decision (spec §4.2 step 4).
func (s *Song) onEndOfSong() {
	if s.LoopCount > 0 || s.LoopCount == LoopInfinite {
		if s.LoopCount > 0 && s.LoopCount != LoopInfinite {
			s.LoopCount--
		}
		s.resetToLoopStart()
		if s.Router != nil {
			s.Router.AllChannelsNotesOff()
		}
		return
	}
	s.Finished = true
}

func (s *Song) resetToLoopStart() {
	s.resetCursors()
	s.tick = s.LoopStartTick
}

// resetCursors rewinds every track to its first byte without touching the
// song-wide tick/time clock, shared by loop wraparound, preroll, and seek.
func (s *Song) resetCursors() {
	for _, tr := range s.tracks {
		tr.pos = 0
		tr.lastAbsTick = 0
		tr.hasPending = false
		tr.done = false
		tr.runningStat = 0
	}
}

// dispatch decodes and applies one event on tr at the track's current
// read position (spec §4.2 "Meta events", §4.3 routing).
func (s *Song) dispatch(tr *trackCursor) {
	if tr.pos >= len(tr.data) {
		tr.done = true
		return
	}
	b := tr.data[tr.pos]
	var status byte
	if b < 0x80 {
		status = tr.runningStat
	} else {
		status = b
		tr.pos++
		if status < 0xF0 {
			tr.runningStat = status
		}
	}

	switch {
	case status == 0xFF:
		s.dispatchMeta(tr)
	case status == 0xF0 || status == 0xF7:
		s.dispatchSysEx(tr)
	case status >= 0x80 && status < 0xF0:
		s.dispatchChannelMessage(tr, status)
	default:
		tr.done = true
	}
}

func (s *Song) dispatchMeta(tr *trackCursor) {
	if tr.pos >= len(tr.data) {
		tr.done = true
		return
	}
	metaType := tr.data[tr.pos]
	tr.pos++
	length, n := container.ReadVarLen(tr.data[tr.pos:])
	tr.pos += n
	if tr.pos+length > len(tr.data) {
		tr.done = true
		return
	}
	payload := tr.data[tr.pos : tr.pos+length]
	tr.pos += length

	switch metaType {
	case 0x51: // tempo
		if length == 3 {
			s.tempoUSPerQuarter = int(payload[0])<<16 | int(payload[1])<<8 | int(payload[2])
		}
	case 0x2F: // end of track
		tr.done = true
	case 0x05:
		if s.OnLyric != nil {
			s.OnLyric(string(payload))
		}
	case 0x01:
		if s.OnText != nil {
			s.OnText(string(payload))
		}
	case 0x06:
		if s.OnMarker != nil {
			s.OnMarker(string(payload))
		}
	}
}

func (s *Song) dispatchSysEx(tr *trackCursor) {
	length, n := container.ReadVarLen(tr.data[tr.pos:])
	tr.pos += n
	if tr.pos+length > len(tr.data) {
		tr.done = true
		return
	}
	payload := tr.data[tr.pos : tr.pos+length]
	tr.pos += length
	if s.mode == modeNormal && s.Router != nil {
		s.Router.SysEx(payload)
	}
}

func (s *Song) dispatchChannelMessage(tr *trackCursor, status byte) {
	ch := int(status & 0x0F)
	kind := status & 0xF0

	nData := 2
	if kind == 0xC0 || kind == 0xD0 {
		nData = 1
	}
	if tr.pos+nData > len(tr.data) {
		tr.done = true
		return
	}
	d1 := tr.data[tr.pos]
	var d2 byte
	if nData == 2 {
		d2 = tr.data[tr.pos+1]
	}
	tr.pos += nData

	if s.Router == nil {
		return
	}

	switch kind {
	case 0x80:
		if s.mode != modeScan {
			s.Router.NoteOff(ch, d1, d2)
		}
	case 0x90:
		if s.mode == modeScan {
			return
		}
		velocity := d2
		if s.mode == modePreroll {
			velocity = 0
		}
		s.Router.NoteOn(ch, d1, velocity)
	case 0xA0:
		// Polyphonic key pressure: informational only, not modeled.
	case 0xB0:
		if s.mode != modeScan {
			s.Router.ControlChange(ch, d1, d2)
		}
	case 0xC0:
		if s.mode != modeScan {
			s.Router.ProgramChange(ch, d1)
		}
	case 0xD0:
		// Channel pressure: informational only, not modeled.
	case 0xE0:
		if s.mode != modeScan {
			value := int16(int(d2)<<7|int(d1)) - 8192
			s.Router.PitchBendEvent(ch, value)
		}
	}
}
