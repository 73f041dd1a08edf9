package sequencer

// GetMicrosecondLength scans the song from its current state to
// end-of-track across all tracks, applying tempo changes, without
// dispatching any events (spec §4.2 "Preroll: Discover length").
// It operates on an isolated scratch copy of the cursor state so calling
// it does not disturb actual playback position.
func (s *Song) GetMicrosecondLength() int64 {
	scratch := s.snapshot()
	defer s.restore(scratch)

	s.resetCursors()
	s.tick = 0
	s.currentUS = 0
	prevMode := s.mode
	s.mode = modeScan
	defer func() { s.mode = prevMode }()

	// Drive runUntil with an ever-advancing horizon until the song
	// reports finished; LoopCount is pinned to 0 (play once) for the
	// duration of a length scan so an infinitely-looping song still
	// terminates the measurement after a single pass.
	savedLoop := s.LoopCount
	s.LoopCount = 0
	defer func() { s.LoopCount = savedLoop }()

	const horizonStep int64 = 10_000_000 // 10s steps
	for !s.Finished {
		s.runUntil(s.currentUS + horizonStep)
		if !s.Finished && !s.anyTrackPending() {
			break
		}
	}
	return s.currentUS
}

func (s *Song) anyTrackPending() bool {
	for _, tr := range s.tracks {
		if !tr.done {
			return true
		}
	}
	return false
}

type cursorSnapshot struct {
	tick      int
	currentUS int64
	tempo     int
	finished  bool
	loopCount int
	tracks    []trackCursor
}

func (s *Song) snapshot() cursorSnapshot {
	snap := cursorSnapshot{
		tick:      s.tick,
		currentUS: s.currentUS,
		tempo:     s.tempoUSPerQuarter,
		finished:  s.Finished,
		loopCount: s.LoopCount,
	}
	for _, tr := range s.tracks {
		snap.tracks = append(snap.tracks, *tr)
	}
	return snap
}

func (s *Song) restore(snap cursorSnapshot) {
	s.tick = snap.tick
	s.currentUS = snap.currentUS
	s.tempoUSPerQuarter = snap.tempo
	s.Finished = snap.finished
	s.LoopCount = snap.loopCount
	for i, tr := range snap.tracks {
		*s.tracks[i] = tr
	}
}

// Preroll warms instrument loading by dispatching every event across the
// entire song — program changes reach the bank resolver, note-ons are
// suppressed (velocity forced to 0) — then rewinds the cursor back to
// wherever it started so a subsequent Start plays normally (spec §4.2
// "Preroll: Warm instrument loading"; SPEC_FULL.md §5.2, spec.md:139
// "during preroll all program change events are dispatched so the bank
// resolver can load required samples").
func (s *Song) Preroll() {
	length := s.GetMicrosecondLength()

	scratch := s.snapshot()
	defer s.restore(scratch)

	s.resetCursors()
	s.tick = 0
	s.currentUS = 0
	s.Finished = false
	s.LoopCount = 0 // one warm-load pass regardless of the song's real loop setting

	prevMode := s.mode
	s.mode = modePreroll
	if s.Router != nil {
		s.Router.Suppress = true
	}
	s.runUntil(length)
	s.mode = prevMode
	if s.Router != nil {
		s.Router.Suppress = false
	}
}

// SeekTo fast-forwards to targetUS: it silences all active voices, then
// replays from the song start with program changes and velocity-0
// note-ons dispatched to rebuild controller state, suppressing the
// external MIDI sink for the replay window, then resumes normal dispatch
// at targetUS (spec §4.2 "Seek semantics").
func (s *Song) SeekTo(targetUS int64) {
	if s.Router != nil {
		s.Router.AllChannelsNotesOff()
		s.Router.Suppress = true
	}

	s.resetCursors()
	s.tick = 0
	s.currentUS = 0
	s.Finished = false
	prevMode := s.mode
	s.mode = modePreroll

	s.runUntil(targetUS)

	s.mode = prevMode
	if s.Router != nil {
		s.Router.Suppress = false
	}
}
