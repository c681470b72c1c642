package lumberjack_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awesant/awesant-go/internal/lumberjack"
)

func TestEncodeDecodeWindowFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, lumberjack.EncodeWindow(&buf, lumberjack.Version2, 50))

	dec := lumberjack.NewDecoder(&buf, lumberjack.CompressionNone)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	w, ok := frame.(lumberjack.WindowFrame)
	require.True(t, ok)
	require.Equal(t, uint32(50), w.WindowSize)
}

func TestEncodeDecodeAckFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, lumberjack.EncodeAck(&buf, lumberjack.Version1, 42))

	dec := lumberjack.NewDecoder(&buf, lumberjack.CompressionNone)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	a, ok := frame.(lumberjack.AckFrame)
	require.True(t, ok)
	require.Equal(t, uint32(42), a.Seq)
}

func TestEncodeDecodeDataV1RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fields := map[string]interface{}{"line": "hello world", "host": "h1"}
	require.NoError(t, lumberjack.EncodeDataV1(&buf, 7, fields))

	dec := lumberjack.NewDecoder(&buf, lumberjack.CompressionNone)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	d, ok := frame.(lumberjack.DataFrame)
	require.True(t, ok)
	require.Equal(t, uint32(7), d.Seq)
	require.Equal(t, "hello world", d.Fields["line"])
	require.Equal(t, "h1", d.Fields["host"])
}

func TestEncodeDecodeDataV2RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fields := map[string]interface{}{"line": "hello world", "count": float64(3)}
	require.NoError(t, lumberjack.EncodeDataV2(&buf, 9, fields))

	dec := lumberjack.NewDecoder(&buf, lumberjack.CompressionNone)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	d, ok := frame.(lumberjack.DataFrame)
	require.True(t, ok)
	require.Equal(t, uint32(9), d.Seq)
	require.Equal(t, "hello world", d.Fields["line"])
	require.Equal(t, float64(3), d.Fields["count"])
}

func TestCompressedFrameRoundTripZlib(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, lumberjack.EncodeDataV2(&body, 1, map[string]interface{}{"a": "1"}))
	require.NoError(t, lumberjack.EncodeDataV2(&body, 2, map[string]interface{}{"a": "2"}))

	var out bytes.Buffer
	require.NoError(t, lumberjack.EncodeCompressed(&out, lumberjack.Version2, lumberjack.CompressionZlib, body.Bytes()))

	dec := lumberjack.NewDecoder(&out, lumberjack.CompressionZlib)

	first, err := dec.ReadFrame()
	require.NoError(t, err)
	d1 := first.(lumberjack.DataFrame)
	require.Equal(t, uint32(1), d1.Seq)
	require.Equal(t, "1", d1.Fields["a"])

	second, err := dec.ReadFrame()
	require.NoError(t, err)
	d2 := second.(lumberjack.DataFrame)
	require.Equal(t, uint32(2), d2.Seq)
	require.Equal(t, "2", d2.Fields["a"])
}

func TestCompressedFrameRoundTripRawDeflate(t *testing.T) {
	var body bytes.Buffer
	require.NoError(t, lumberjack.EncodeDataV1(&body, 5, map[string]interface{}{"x": "y"}))

	var out bytes.Buffer
	require.NoError(t, lumberjack.EncodeCompressed(&out, lumberjack.Version1, lumberjack.CompressionRaw, body.Bytes()))

	dec := lumberjack.NewDecoder(&out, lumberjack.CompressionRaw)
	frame, err := dec.ReadFrame()
	require.NoError(t, err)
	d := frame.(lumberjack.DataFrame)
	require.Equal(t, uint32(5), d.Seq)
	require.Equal(t, "y", d.Fields["x"])
}

func TestBatchEncodingContractWindowThenCompressed(t *testing.T) {
	// spec.md §4.4: "the encoder emits exactly one W per batch followed by
	// one C whose decompressed body is the concatenation of the batch's D
	// (or J) frames."
	var body bytes.Buffer
	require.NoError(t, lumberjack.EncodeDataV2(&body, 1, map[string]interface{}{"n": "1"}))
	require.NoError(t, lumberjack.EncodeDataV2(&body, 2, map[string]interface{}{"n": "2"}))

	var batch bytes.Buffer
	require.NoError(t, lumberjack.EncodeWindow(&batch, lumberjack.Version2, 2))
	require.NoError(t, lumberjack.EncodeCompressed(&batch, lumberjack.Version2, lumberjack.CompressionZlib, body.Bytes()))

	dec := lumberjack.NewDecoder(&batch, lumberjack.CompressionZlib)

	f1, err := dec.ReadFrame()
	require.NoError(t, err)
	require.IsType(t, lumberjack.WindowFrame{}, f1)
	require.Equal(t, uint32(2), f1.(lumberjack.WindowFrame).WindowSize)

	f2, err := dec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint32(1), f2.(lumberjack.DataFrame).Seq)

	f3, err := dec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, uint32(2), f3.(lumberjack.DataFrame).Seq)
}

func TestUnknownFrameCodeIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{lumberjack.Version2, 'Z'})

	dec := lumberjack.NewDecoder(&buf, lumberjack.CompressionNone)
	_, err := dec.ReadFrame()
	require.Error(t, err)
}
