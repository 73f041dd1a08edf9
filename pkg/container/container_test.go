package container

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func buildSMF(t *testing.T) []byte {
	t.Helper()
	mthd := []byte{'M', 'T', 'h', 'd', 0, 0, 0, 6, 0, 0, 0, 1, 0x01, 0xE0}
	track := []byte{
		0x00, 0x90, 0x3C, 0x64, // t=0 note-on C4 vel 100
		0x60, 0x80, 0x3C, 0x40, // delta 96 note-off
		0x00, 0xFF, 0x2F, 0x00, // EOT
	}
	mtrk := append([]byte{'M', 'T', 'r', 'k', 0, 0, 0, byte(len(track))}, track...)
	return append(mthd, mtrk...)
}

func TestSniffSMF(t *testing.T) {
	data := buildSMF(t)
	kind, err := Sniff(data)
	if err != nil {
		t.Fatalf("Sniff: %v", err)
	}
	if kind != KindSMF {
		t.Fatalf("kind = %v, want KindSMF", kind)
	}
}

// S1 from the acceptance scenarios: format 0, 1 track, 480 PPQN SMF with a
// single note-on/note-off pair.
func TestLoadFromMemory_S1Scenario(t *testing.T) {
	data := buildSMF(t)
	song, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	hdr, err := ParseSMFHeader(song.MIDI)
	if err != nil {
		t.Fatalf("ParseSMFHeader: %v", err)
	}
	if hdr.Format != 0 || hdr.TrackCount != 1 || hdr.Division != 480 {
		t.Fatalf("header = %+v, want format=0 tracks=1 division=480", hdr)
	}
	tracks, err := Tracks(song.MIDI)
	if err != nil {
		t.Fatalf("Tracks: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
}

func TestLoadFromMemory_TooShortReturnsBadFile(t *testing.T) {
	_, err := LoadFromMemory([]byte("MThd\x00\x00\x00\x06"), false)
	if err == nil {
		t.Fatal("expected error for truncated SMF")
	}
}

func TestSMFRoundTrip(t *testing.T) {
	data := buildSMF(t)
	song1, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	song2, err := LoadFromMemory(song1.MIDI, false)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !bytes.Equal(song1.MIDI, song2.MIDI) {
		t.Fatal("round-tripped MIDI bytes differ")
	}
}

func buildRIFFChunk(id string, data []byte) []byte {
	out := append([]byte(id), byte(len(data)), byte(len(data) >> 8), byte(len(data) >> 16), byte(len(data) >> 24))
	out = append(out, data...)
	if len(data)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func buildRMI(t *testing.T, dbnk []byte) []byte {
	t.Helper()
	smf := buildSMF(t)
	dataChunk := buildRIFFChunk("data", smf)
	var body []byte
	body = append(body, dataChunk...)
	if dbnk != nil {
		info := append([]byte("INFO"), buildRIFFChunk("DBNK", dbnk)...)
		body = append(body, buildRIFFChunk("LIST", info)...)
	}
	riff := append([]byte("RIFF"), byte(len(body)+4), byte((len(body)+4)>>8), byte((len(body)+4)>>16), byte((len(body)+4)>>24))
	riff = append(riff, []byte("RMID")...)
	riff = append(riff, body...)
	return riff
}

// S2: RIFF+RMID with LIST INFO DBNK 02 00 00 00 05 00 -> bank offset 5.
func TestParseRMI_DBNKOverridesBankOffset(t *testing.T) {
	data := buildRMI(t, []byte{0x05, 0x00})
	kind, err := Sniff(data)
	if err != nil || kind != KindRMI {
		t.Fatalf("Sniff = %v, %v, want KindRMI", kind, err)
	}
	song, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	if song.BankOffset != 5 {
		t.Fatalf("BankOffset = %d, want 5", song.BankOffset)
	}
}

func TestParseRMI_NoDBNKDefaultsToZeroWithoutBank(t *testing.T) {
	data := buildRMI(t, nil)
	song, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	if song.BankOffset != 0 {
		t.Fatalf("BankOffset = %d, want 0 (no embedded bank, no DBNK)", song.BankOffset)
	}
}

// IENC "windows-1252" names a title tag containing 0xE9 ("caf\xe9"),
// which must come back decoded as UTF-8 "café".
func TestParseRMI_IENCDecodesTagsToUTF8(t *testing.T) {
	smf := buildSMF(t)
	dataChunk := buildRIFFChunk("data", smf)
	info := append([]byte("INFO"), buildRIFFChunk("IENC", []byte("windows-1252"))...)
	info = append(info, buildRIFFChunk("INAM", []byte{'c', 'a', 'f', 0xE9})...)
	body := append(dataChunk, buildRIFFChunk("LIST", info)...)
	riff := append([]byte("RIFF"), byte(len(body)+4), byte((len(body)+4)>>8), byte((len(body)+4)>>16), byte((len(body)+4)>>24))
	riff = append(riff, []byte("RMID")...)
	riff = append(riff, body...)

	song, err := LoadFromMemory(riff, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	if song.Title != "café" {
		t.Fatalf("Title = %q, want %q", song.Title, "café")
	}
}

func buildSF2(size int) []byte {
	body := make([]byte, size)
	copy(body, []byte("sfbk"))
	riff := append([]byte("RIFF"), byte(len(body)), byte(len(body)>>8), byte(len(body)>>16), byte(len(body)>>24))
	riff = append(riff, body...)
	return riff
}

// S3: "XMF_2.00" followed by arbitrary bytes containing one zlib stream
// that inflates to a 50 KiB RIFF sfbk.
func TestParseMXMF_S3Scenario(t *testing.T) {
	sf2 := buildSF2(50 * 1024)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	if _, err := zw.Write(sf2); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	smf := buildSMF(t)
	var zbuf2 bytes.Buffer
	zw2 := zlib.NewWriter(&zbuf2)
	if _, err := zw2.Write(smf); err != nil {
		t.Fatalf("zlib write (smf): %v", err)
	}
	if err := zw2.Close(); err != nil {
		t.Fatalf("zlib close (smf): %v", err)
	}

	data := append([]byte("XMF_2.00"), []byte{0, 0, 0, 0}...)
	data = append(data, zbuf.Bytes()...)
	data = append(data, zbuf2.Bytes()...)

	kind, err := Sniff(data)
	if err != nil || kind != KindMXMF {
		t.Fatalf("Sniff = %v, %v, want KindMXMF", kind, err)
	}

	song, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	if song.EmbeddedBank == nil {
		t.Fatal("expected embedded bank to be discovered")
	}
	if !song.EmbeddedBankIsSF {
		t.Fatal("expected embedded bank to be recognized as SF2")
	}
	if len(song.MIDI) == 0 {
		t.Fatal("expected MIDI payload to be discovered alongside the bank")
	}
}

func TestParseMXMF_TruncatedMagicIsRejected(t *testing.T) {
	_, err := LoadFromMemory([]byte("XMF_2.0"), false)
	if err == nil {
		t.Fatal("expected error for truncated MXMF magic")
	}
}

// XMF 1.00: a single file node (itemCount=0) whose payload is an inline,
// unpacked SMF. nodeLen is 1 byte here since the node body stays under 128
// bytes, so it can be computed directly without a fixed-point iteration.
func buildXMF1(t *testing.T) []byte {
	t.Helper()
	smf := buildSMF(t)

	itemCount := encodeVarLen(0)
	headerLen := encodeVarLen(0)
	body := append(append([]byte{}, itemCount...), headerLen...)
	body = append(body, smf...)

	nodeLen := 1 + len(body) // +1 for the nodeLen VLQ's own single byte
	if nodeLen >= 128 {
		t.Fatalf("test fixture node too large for 1-byte VLQ assumption: %d", nodeLen)
	}
	fileNodeBytes := append(encodeVarLen(nodeLen), body...)

	rootOffset := 8 + len(encodeVarLen(0)) + len(encodeVarLen(0)) + len(encodeVarLen(0))
	header := append([]byte("XMF_1.00"), encodeVarLen(0)...)
	header = append(header, encodeVarLen(0)...)
	header = append(header, encodeVarLen(rootOffset)...)

	return append(header, fileNodeBytes...)
}

func encodeVarLen(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var buf []byte
	buf = append(buf, byte(v&0x7F))
	v >>= 7
	for v > 0 {
		buf = append([]byte{byte(v&0x7F) | 0x80}, buf...)
		v >>= 7
	}
	return buf
}

func TestParseXMF1_SingleFileNode(t *testing.T) {
	data := buildXMF1(t)
	kind, err := Sniff(data)
	if err != nil || kind != KindXMF1 {
		t.Fatalf("Sniff = %v, %v, want KindXMF1", kind, err)
	}
	song, err := LoadFromMemory(data, false)
	if err != nil {
		t.Fatalf("LoadFromMemory: %v", err)
	}
	if len(song.MIDI) == 0 {
		t.Fatal("expected a decoded SMF payload")
	}
	if err := validateSMF(song.MIDI); err != nil {
		t.Fatalf("validateSMF on extracted payload: %v", err)
	}
}

func TestParseRMF_MissingMIDIResourceErrors(t *testing.T) {
	header := append([]byte("IREZ"), []byte{0, 0, 0, 1, 0, 0, 0, 0}...)
	_, err := LoadFromMemory(header, false)
	if err == nil {
		t.Fatal("expected error for RMF with no SONG/MIDI resource")
	}
}
