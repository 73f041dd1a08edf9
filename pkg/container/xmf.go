package container

import (
	"bytes"

	"github.com/riffsynth/engine/pkg/result"
)

// maxMXMFScanAttempts bounds the number of zlib/gzip-header scan-and-try
// attempts MXMF parsing performs, to prevent runaway work on pathological
// input (spec §4.5 "Bound the number of scan attempts").
const maxMXMFScanAttempts = 64

// DecryptFunc is the whole-file or per-payload obfuscation function the
// spec describes as externally provided ("decrypt_data(buf, len)"). The
// XMF parser re-runs its heuristics on the decrypted copy when a plaintext
// scan fails. nil disables the decrypt-then-inflate pass.
type DecryptFunc func(buf []byte) []byte

// decryptHook is package-level so callers can opt in without threading a
// parameter through every LoadFromMemory call; it is nil (disabled) by
// default, matching the reference engine shipping with no default cipher.
var decryptHook DecryptFunc

// SetDecryptHook installs the XMF/MXMF decrypt function (spec §4.5
// "Encrypted XMF"). Pass nil to disable.
func SetDecryptHook(f DecryptFunc) { decryptHook = f }

// parseXMF1 decodes the structured XMF 1.00 container: fileLen VLQ,
// metaTableLen VLQ, rootOffset VLQ, then a recursive node tree (spec §4.5,
// §6 XMF 1.00).
func parseXMF1(data []byte) (*Song, error) {
	if len(data) < 8 {
		return nil, result.New(result.BadFile, "XMF file shorter than magic")
	}
	p := 8
	_, n := ReadVarLen(data[p:])
	p += n // fileLen, informational only
	_, n = ReadVarLen(data[p:])
	p += n // metaTableLen, informational only
	rootOffset, n := ReadVarLen(data[p:])
	p += n

	if rootOffset < 0 || rootOffset >= len(data) {
		return nil, result.New(result.BadFile, "XMF root node offset out of range")
	}

	song := &Song{Kind: KindXMF1, BankOffset: 1}
	var midi []byte
	var bank []byte
	var bankIsSF bool

	var walk func(offset int, depth int) error
	walk = func(offset int, depth int) error {
		if depth > 64 || offset < 0 || offset >= len(data) {
			return result.New(result.BadFile, "XMF node tree too deep or out of range")
		}
		node, err := parseXMFNode(data, offset)
		if err != nil {
			return err
		}
		if node.ItemCount == 0 {
			payload, ok := unpackXMFPayload(node.Payload)
			if ok {
				if kind, _ := Sniff(payload); kind == KindSMF && midi == nil {
					if validateSMF(payload) == nil {
						midi = payload
					}
				} else if b, isSF, found := findEmbeddedBank(payload); found && bank == nil {
					bank, bankIsSF = b, isSF
				}
			}
			return nil
		}
		for _, childOffset := range node.Children {
			if err := walk(childOffset, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(rootOffset, 0); err != nil {
		return nil, err
	}
	if midi == nil {
		return nil, result.New(result.BadFile, "XMF container has no decodable SMF payload")
	}

	song.MIDI = midi
	if bank != nil {
		song.EmbeddedBank = bank
		song.EmbeddedBankIsSF = bankIsSF
	} else {
		song.BankOffset = 0
	}
	return song, nil
}

type xmfNode struct {
	ItemCount int
	Children  []int // item node offsets, when ItemCount > 0 (folder node)
	Payload   []byte
}

// parseXMFNode decodes one node: nodeLen, itemCount, headerLen VLQs,
// followed by a header area (metadata, skipped except for resourceFormat
// type-ID 3) and either child item offsets (folder) or an inline/in-file
// reference to a payload (file node).
func parseXMFNode(data []byte, offset int) (xmfNode, error) {
	p := offset
	nodeLen, n := ReadVarLen(data[p:])
	p += n
	itemCount, n := ReadVarLen(data[p:])
	p += n
	headerLen, n := ReadVarLen(data[p:])
	p += n

	nodeEnd := offset + nodeLen
	if nodeLen <= 0 || nodeEnd > len(data) {
		return xmfNode{}, result.New(result.BadFile, "XMF node length exceeds file bounds")
	}
	headerEnd := p + headerLen
	if headerEnd > len(data) || headerEnd > nodeEnd {
		return xmfNode{}, result.New(result.BadFile, "XMF node header length exceeds node bounds")
	}
	p = headerEnd

	node := xmfNode{ItemCount: itemCount}
	if itemCount == 0 {
		// File node: what follows is a reference. This engine supports
		// the inline form (the remaining node bytes ARE the payload,
		// which covers the common case); in-file/indirection references
		// degrade gracefully to "no payload" rather than failing the
		// whole parse.
		if p < nodeEnd {
			node.Payload = data[p:nodeEnd]
		}
		return node, nil
	}

	// Folder node: remaining bytes are itemCount child node offsets,
	// VLQ-encoded.
	for i := 0; i < itemCount && p < nodeEnd; i++ {
		childOffset, n := ReadVarLen(data[p:])
		p += n
		node.Children = append(node.Children, childOffset)
	}
	return node, nil
}

// unpackXMFPayload tries, in order: zlib/gzip inflate at offset 0, raw
// deflate at offset 0, raw deflate at offset 2 (some packers prepend two
// bytes), decrypt-then-inflate, then returns the payload unmodified if
// nothing unpacks it (it may already be plaintext SMF/RMF/RIFF).
func unpackXMFPayload(payload []byte) ([]byte, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	if out, err := inflateZlib(payload); err == nil {
		return out, true
	}
	if out, err := inflateGzip(payload); err == nil {
		return out, true
	}
	if out, err := inflateRawDeflate(payload, 0); err == nil {
		return out, true
	}
	if out, err := inflateRawDeflate(payload, 2); err == nil {
		return out, true
	}
	if decryptHook != nil {
		plain := decryptHook(append([]byte(nil), payload...))
		if out, err := inflateZlib(plain); err == nil {
			return out, true
		}
		if kind, _ := Sniff(plain); kind != KindUnknown {
			return plain, true
		}
	}
	if kind, _ := Sniff(payload); kind != KindUnknown {
		return payload, true
	}
	probeLen := 64
	if len(payload) < probeLen {
		probeLen = len(payload)
	}
	if bytes.HasPrefix(payload, []byte("IREZ")) || bytes.Contains(payload[:probeLen], []byte("RIFF")) {
		return payload, true
	}
	return payload, false
}

// parseMXMF scans an MXMF 2.00 file for zlib/gzip headers and, for each,
// attempts inflate; then scans the inflated output for SMF/RMF/RIFF bank
// data (spec §4.5 "MXMF parser").
func parseMXMF(data []byte) (*Song, error) {
	if len(data) < 8 {
		return nil, result.New(result.BadFile, "MXMF file shorter than magic")
	}

	song := &Song{Kind: KindMXMF, BankOffset: 1}
	var midi []byte
	var bank []byte
	var bankIsSF bool

	attempts := 0
	for i := 8; i < len(data)-1 && attempts < maxMXMFScanAttempts; i++ {
		if !looksLikeZlibOrGzip(data[i:]) {
			continue
		}
		attempts++
		out, err := inflateAny(data[i:])
		if err != nil {
			continue
		}
		if midi == nil {
			if k, _ := Sniff(out); k == KindSMF && validateSMF(out) == nil {
				midi = out
			} else if m := bytes.Index(out, []byte("MThd")); m >= 0 && validateSMF(out[m:]) == nil {
				midi = out[m:]
			}
		}
		if bank == nil {
			if b, isSF, found := findEmbeddedBank(out); found {
				bank, bankIsSF = b, isSF
			}
		}
		if midi != nil && bank != nil {
			break
		}
	}

	if midi == nil && decryptHook != nil {
		plain := decryptHook(append([]byte(nil), data...))
		if m := bytes.Index(plain, []byte("MThd")); m >= 0 && validateSMF(plain[m:]) == nil {
			midi = plain[m:]
		}
	}

	if midi == nil && bank == nil {
		return nil, result.New(result.BadFile, "MXMF container yielded no decodable SMF payload or bank")
	}

	song.MIDI = midi
	if bank != nil {
		song.EmbeddedBank = bank
		song.EmbeddedBankIsSF = bankIsSF
	} else {
		song.BankOffset = 0
	}
	return song, nil
}

func looksLikeZlibOrGzip(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	if b[0] == 0x1F && b[1] == 0x8B {
		return true
	}
	if b[0]&0x0F == 8 { // CMF low nibble 8 = deflate
		word := int(b[0])*256 + int(b[1])
		return word%31 == 0
	}
	return false
}

func inflateAny(b []byte) ([]byte, error) {
	if len(b) >= 2 && b[0] == 0x1F && b[1] == 0x8B {
		return inflateGzip(b)
	}
	return inflateZlib(b)
}
