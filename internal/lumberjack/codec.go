// Package lumberjack implements the wire protocol of spec.md §4.4-§4.6: a
// framed, windowed, optionally-compressed event transport modelled on the
// Logstash Lumberjack protocol. The frame shapes and ack discipline are
// bespoke to the spec (no single teacher file implements this); the TLS
// dial/accept pattern is grounded on
// plugins/inputs/http_listener_ng/http_listener_ng.go's tls.Listen usage,
// and the compression frame is grounded on the teacher's direct dependency
// github.com/klauspost/compress.
//
// Naming note: this package has nothing to do with
// gopkg.in/natefinch/lumberjack.v2, which internal/logging uses for log
// file rotation. The two "lumberjack"s are an unrelated naming coincidence.
package lumberjack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// Protocol versions, selecting the D (v1, key/value pairs) vs J (v2, JSON)
// data frame encoding.
const (
	Version1 byte = '1'
	Version2 byte = '2'
)

// Frame codes, spec.md §4.4.
const (
	codeWindow     byte = 'W'
	codeDataV1     byte = 'D'
	codeDataV2     byte = 'J'
	codeCompressed byte = 'C'
	codeAck        byte = 'A'
)

// CompressionMode selects how a C frame's body is wrapped, resolving the
// Open Question in spec.md §9 about wrapper compatibility with existing
// Lumberjack implementations: zlib-wrapped is the default (matches the
// reference Logstash/Lumberjack forwarder), raw DEFLATE is available for
// peers that omit the zlib header.
type CompressionMode int

const (
	CompressionNone CompressionMode = iota
	CompressionZlib
	CompressionRaw
)

// Frame is one decoded protocol frame.
type Frame interface{ frame() }

// WindowFrame announces the number of data frames the sender will have in
// flight before requiring an ack.
type WindowFrame struct {
	WindowSize uint32
}

func (WindowFrame) frame() {}

// DataFrame carries one event, either v1 (key/value pairs, flattened to
// strings) or v2 (arbitrary JSON).
type DataFrame struct {
	Version byte
	Seq     uint32
	Fields  map[string]interface{}
}

func (DataFrame) frame() {}

// AckFrame acknowledges receipt up to Seq.
type AckFrame struct {
	Seq uint32
}

func (AckFrame) frame() {}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// EncodeWindow writes a W frame under the given protocol version.
func EncodeWindow(w io.Writer, version byte, windowSize uint32) error {
	if _, err := w.Write([]byte{version, codeWindow}); err != nil {
		return err
	}
	return writeUint32(w, windowSize)
}

// EncodeAck writes an A frame. The ack frame is unversioned in practice
// (both v1 and v2 peers accept the same A shape); spec.md §9 resolves the
// Open Question of whether v2 needs its own ack code by reusing v1's A.
func EncodeAck(w io.Writer, version byte, seq uint32) error {
	if _, err := w.Write([]byte{version, codeAck}); err != nil {
		return err
	}
	return writeUint32(w, seq)
}

// EncodeDataV1 writes a D frame: seq, field count, then (klen, key, vlen,
// value) for each field, all as strings.
func EncodeDataV1(w io.Writer, seq uint32, fields map[string]interface{}) error {
	if _, err := w.Write([]byte{Version1, codeDataV1}); err != nil {
		return err
	}
	if err := writeUint32(w, seq); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(fields))); err != nil {
		return err
	}
	for k, v := range fields {
		val := fmt.Sprintf("%v", v)
		if err := writeUint32(w, uint32(len(k))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, k); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(val))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, val); err != nil {
			return err
		}
	}
	return nil
}

// EncodeDataV2 writes a J frame: seq, then the JSON encoding of fields.
func EncodeDataV2(w io.Writer, seq uint32, fields map[string]interface{}) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte{Version2, codeDataV2}); err != nil {
		return err
	}
	if err := writeUint32(w, seq); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(payload))); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// EncodeCompressed DEFLATE-compresses body (itself a concatenation of D/J
// frames) and writes it as a single C frame.
func EncodeCompressed(w io.Writer, version byte, mode CompressionMode, body []byte) error {
	var compressed bytes.Buffer
	var zw io.WriteCloser
	if mode == CompressionZlib {
		zw = zlib.NewWriter(&compressed)
	} else {
		var err error
		zw, err = flate.NewWriter(&compressed, flate.DefaultCompression)
		if err != nil {
			return err
		}
	}
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}

	if _, err := w.Write([]byte{version, codeCompressed}); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(compressed.Len())); err != nil {
		return err
	}
	_, err := w.Write(compressed.Bytes())
	return err
}

// Decoder reads frames off r, transparently recursing into C frames
// (spec.md §4.4: "encountering C inside C is not required but SHOULD be
// tolerated").
type Decoder struct {
	r    *bufio.Reader
	mode CompressionMode

	// sub is set while unpacking a decompressed C payload; ReadFrame
	// drains it before returning to r.
	sub *Decoder
}

// NewDecoder wraps r. mode only affects how C frames are decompressed;
// decoding W/D/J/A frames is mode-independent.
func NewDecoder(r io.Reader, mode CompressionMode) *Decoder {
	return &Decoder{r: bufio.NewReader(r), mode: mode}
}

// ReadFrame reads and decodes the next frame. Unknown frame codes are
// fatal to the connection, per spec.md §4.4.
func (d *Decoder) ReadFrame() (Frame, error) {
	for {
		if d.sub != nil {
			f, err := d.sub.ReadFrame()
			if err == io.EOF {
				d.sub = nil
				continue
			}
			return f, err
		}
		return d.readOne()
	}
}

func (d *Decoder) readOne() (Frame, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(d.r, header); err != nil {
		return nil, err
	}
	version, code := header[0], header[1]

	switch code {
	case codeWindow:
		size, err := readUint32(d.r)
		if err != nil {
			return nil, err
		}
		return WindowFrame{WindowSize: size}, nil

	case codeAck:
		seq, err := readUint32(d.r)
		if err != nil {
			return nil, err
		}
		return AckFrame{Seq: seq}, nil

	case codeDataV1:
		return decodeDataV1(d.r)

	case codeDataV2:
		return decodeDataV2(d.r)

	case codeCompressed:
		clen, err := readUint32(d.r)
		if err != nil {
			return nil, err
		}
		compressed := make([]byte, clen)
		if _, err := io.ReadFull(d.r, compressed); err != nil {
			return nil, err
		}
		plain, err := decompress(d.mode, compressed)
		if err != nil {
			return nil, fmt.Errorf("decompressing C frame: %w", err)
		}
		d.sub = NewDecoder(bytes.NewReader(plain), d.mode)
		return d.sub.ReadFrame()

	default:
		return nil, fmt.Errorf("unknown frame code %q (version %q)", code, version)
	}
}

func decodeDataV1(r *bufio.Reader) (Frame, error) {
	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{}, n)
	for i := uint32(0); i < n; i++ {
		klen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		key := make([]byte, klen)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		vlen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		val := make([]byte, vlen)
		if _, err := io.ReadFull(r, val); err != nil {
			return nil, err
		}
		fields[string(key)] = string(val)
	}
	return DataFrame{Version: Version1, Seq: seq, Fields: fields}, nil
}

func decodeDataV2(r *bufio.Reader) (Frame, error) {
	seq, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	plen, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	payload := make([]byte, plen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decoding J frame payload: %w", err)
	}
	return DataFrame{Version: Version2, Seq: seq, Fields: fields}, nil
}

func decompress(mode CompressionMode, compressed []byte) ([]byte, error) {
	src := bytes.NewReader(compressed)
	switch mode {
	case CompressionZlib:
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	default:
		fr := flate.NewReader(src)
		defer fr.Close()
		return io.ReadAll(fr)
	}
}
