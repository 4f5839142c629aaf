package artifact

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// ErrNotPNG is returned when data does not start with the PNG signature.
var ErrNotPNG = errors.New("not a PNG image")

// IsPNG reports whether data starts with the PNG signature.
func IsPNG(data []byte) bool { return bytes.HasPrefix(data, pngSignature) }

// EmbedPNGText returns a copy of data with a tEXt chunk keyword=text inserted
// before IEND. Existing tEXt chunks with the same keyword are removed; other
// chunks are kept byte for byte.
func EmbedPNGText(data []byte, keyword, text string) ([]byte, error) {
	if !IsPNG(data) {
		return nil, ErrNotPNG
	}
	if l := len(keyword); l == 0 || l > 79 || bytes.IndexByte([]byte(keyword), 0) >= 0 {
		return nil, fmt.Errorf("png: invalid tEXt keyword %q", keyword)
	}

	var out bytes.Buffer
	out.Grow(len(data) + len(keyword) + len(text) + 13)
	out.Write(pngSignature)

	inserted := false
	err := walkChunks(data, func(typ string, body, raw []byte) {
		switch {
		case typ == "tEXt" && textKeyword(body) == keyword:
			return
		case typ == "IEND":
			writeChunk(&out, "tEXt", append(append([]byte(keyword), 0), text...))
			inserted = true
		}
		out.Write(raw)
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, fmt.Errorf("png: no IEND chunk")
	}
	return out.Bytes(), nil
}

// PNGText returns the text of the first tEXt chunk with keyword.
func PNGText(data []byte, keyword string) (string, bool, error) {
	if !IsPNG(data) {
		return "", false, ErrNotPNG
	}
	var (
		found bool
		text  string
	)
	err := walkChunks(data, func(typ string, body, _ []byte) {
		if found || typ != "tEXt" || textKeyword(body) != keyword {
			return
		}
		found = true
		text = string(body[len(keyword)+1:])
	})
	return text, found, err
}

// walkChunks calls fn for every chunk after the signature, stopping after IEND.
func walkChunks(data []byte, fn func(typ string, body, raw []byte)) error {
	off := len(pngSignature)
	for off < len(data) {
		if len(data)-off < 12 {
			return fmt.Errorf("png: truncated chunk at offset %d", off)
		}
		n := int(binary.BigEndian.Uint32(data[off:]))
		end := off + 12 + n
		if n < 0 || end > len(data) || end < off {
			return fmt.Errorf("png: chunk at offset %d overruns data", off)
		}
		typ := string(data[off+4 : off+8])
		fn(typ, data[off+8:off+8+n], data[off:end])
		off = end
		if typ == "IEND" {
			return nil
		}
	}
	return nil
}

func textKeyword(body []byte) string {
	if i := bytes.IndexByte(body, 0); i >= 0 {
		return string(body[:i])
	}
	return ""
}

func writeChunk(w *bytes.Buffer, typ string, body []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(body)))
	copy(hdr[4:], typ)
	w.Write(hdr[:])
	w.Write(body)
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(body)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())
	w.Write(sum[:])
}
