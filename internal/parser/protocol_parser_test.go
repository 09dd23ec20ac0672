package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/pkg/protocol"
)

func mustEncode(t *testing.T, f *protocol.Frame) []byte {
	t.Helper()
	b, err := Encode(f)
	require.NoError(t, err)
	return b
}

func TestEncodeLayout(t *testing.T) {
	b := mustEncode(t, &protocol.Frame{Command: protocol.CmdStart, Status: 2, Payload: []byte{0x01, 0x02}})

	require.Len(t, b, protocol.ProtocolHeaderSize+2+protocol.ChecksumSize)
	assert.Equal(t, []byte{0xAA, 0x55, 0x00, 0x30, 0x00, 0x02, 0x00, 0x02, 0x01, 0x02}, b[:10])
	assert.True(t, ValidateChecksum(b))

	_, err := Encode(&protocol.Frame{Payload: make([]byte, protocol.MaxPayloadSize+1)})
	assert.Error(t, err)
}

func TestParseRejectsCorruption(t *testing.T) {
	good := mustEncode(t, Event(protocol.MsgStatus, "running"))

	f, err := Parse(good)
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdEvent, f.Command)
	assert.Equal(t, protocol.MsgStatus, f.Category)
	assert.Equal(t, "running", string(f.Payload))

	bad := append([]byte(nil), good...)
	bad[len(bad)-2] ^= 0xFF
	_, err = Parse(bad)
	assert.Error(t, err)

	bad = append([]byte(nil), good...)
	bad[0] = 0x00
	_, err = Parse(bad)
	assert.Error(t, err)

	_, err = Parse(good[:5])
	assert.Error(t, err)

	_, err = Parse(good[:len(good)-1])
	assert.Error(t, err)
}

func TestDecoderSplitsStream(t *testing.T) {
	a := mustEncode(t, Ack(protocol.CmdHello, protocol.StatusOK))
	b := mustEncode(t, Event(protocol.MsgInfo, "hello"))

	stream := append([]byte{0x00, 0x13}, a...)
	stream = append(stream, b...)

	d := NewDecoder()
	var frames []*protocol.Frame
	// 逐字节写入，模拟串口分片
	for _, c := range stream {
		d.Feed([]byte{c})
		for {
			f, err := d.Next()
			require.NoError(t, err)
			if f == nil {
				break
			}
			frames = append(frames, f)
		}
	}

	require.Len(t, frames, 2)
	assert.True(t, frames[0].IsAck())
	assert.Equal(t, protocol.CmdHello, frames[0].AckOf())
	assert.Equal(t, "hello", string(frames[1].Payload))
	assert.Equal(t, 2, d.Dropped())
}

func TestDecoderResyncsAfterBadFrame(t *testing.T) {
	bad := mustEncode(t, Ack(protocol.CmdStop, protocol.StatusOK))
	bad[len(bad)-1] ^= 0x01
	good := mustEncode(t, Ack(protocol.CmdStart, protocol.StatusOK))

	d := NewDecoder()
	d.Feed(append(bad, good...))

	_, err := d.Next()
	assert.Error(t, err)

	var f *protocol.Frame
	for f == nil {
		f, err = d.Next()
		if err != nil {
			continue
		}
		require.NotNil(t, f)
	}
	assert.Equal(t, protocol.CmdStart, f.AckOf())
}

func TestPinPayloadRoundTrip(t *testing.T) {
	in := PinSetting{Pin: protocol.Pin6, Inverted: true, Millivolts: 5000, Ohms: 120}
	out, err := DecodePin(EncodePin(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodePin([]byte{1})
	assert.Error(t, err)

	size, crc, err := DecodeLoadBegin(EncodeLoadBegin(4096, 0xDEADBEEF))
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), size)
	assert.Equal(t, uint32(0xDEADBEEF), crc)
}

func TestEventTruncatesText(t *testing.T) {
	long := make([]byte, protocol.MaxPayloadSize+10)
	f := Event(protocol.MsgRequest, string(long))
	assert.Len(t, f.Payload, protocol.MaxPayloadSize)
}
