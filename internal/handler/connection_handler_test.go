package handler

import (
	"hash/crc32"
	"net"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/internal/emulator"
	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

// readFrame 从连接读取下一个帧
func readFrame(t *testing.T, conn net.Conn, d *parser.Decoder) *protocol.Frame {
	t.Helper()
	buf := make([]byte, 256)
	deadline := time.Now().Add(2 * time.Second)
	for {
		f, err := d.Next()
		require.NoError(t, err)
		if f != nil {
			return f
		}
		require.NoError(t, conn.SetReadDeadline(deadline))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		d.Feed(buf[:n])
	}
}

func crc(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func writeFrame(t *testing.T, conn net.Conn, f *protocol.Frame) {
	t.Helper()
	data, err := parser.Encode(f)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func TestHandlerAnswersCommands(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()

	log, _ := logtest.NewNullLogger()
	h := NewConnectionHandler(dev, "COM_SIM", emulator.NewDevice("COM_SIM"), log, 0, 50*time.Millisecond, time.Second, 0)

	finished := make(chan struct{})
	go func() {
		h.Handle()
		close(finished)
	}()

	d := parser.NewDecoder()
	writeFrame(t, host, parser.Command(protocol.CmdHello, nil))

	ack := readFrame(t, host, d)
	assert.True(t, ack.IsAck())
	assert.Equal(t, protocol.CmdHello, ack.AckOf())
	assert.Equal(t, uint8(protocol.StatusOK), ack.Status)

	evt := readFrame(t, host, d)
	assert.Equal(t, protocol.CmdEvent, evt.Command)
	assert.Equal(t, protocol.MsgInfo, evt.Category)

	// 读取超时之后仍能继续处理
	time.Sleep(120 * time.Millisecond)
	writeFrame(t, host, parser.Command(protocol.CmdStop, nil))
	ack = readFrame(t, host, d)
	assert.Equal(t, uint8(protocol.StatusBadState), ack.Status)

	host.Close()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after peer closed")
	}
}

// frameStream 后台读取连接上的全部帧，避免同步管道阻塞设备端写入
func frameStream(conn net.Conn, done <-chan struct{}) <-chan *protocol.Frame {
	frames := make(chan *protocol.Frame, 64)
	go func() {
		defer close(frames)
		d := parser.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			d.Feed(buf[:n])
			for {
				f, err := d.Next()
				if err != nil || f == nil {
					break
				}
				select {
				case frames <- f:
				case <-done:
					return
				}
			}
		}
	}()
	return frames
}

func nextFrame(t *testing.T, frames <-chan *protocol.Frame) *protocol.Frame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "connection closed")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestHandlerEmitsTicksWhileStarted(t *testing.T) {
	host, dev := net.Pipe()
	defer host.Close()
	done := make(chan struct{})
	defer close(done)

	log, _ := logtest.NewNullLogger()
	device := emulator.NewDevice("COM_SIM")
	h := NewConnectionHandler(dev, "COM_SIM", device, log, 0, 0, time.Second, 10*time.Millisecond)
	go h.Handle()

	frames := frameStream(host, done)
	expectOK := func(cmd uint16, payload []byte) {
		writeFrame(t, host, parser.Command(cmd, payload))
		for {
			f := nextFrame(t, frames)
			if f.IsAck() {
				require.Equal(t, cmd, f.AckOf())
				require.Equal(t, uint8(protocol.StatusOK), f.Status, protocol.CommandName(cmd))
				return
			}
		}
	}

	expectOK(protocol.CmdHello, nil)
	expectOK(protocol.CmdSetProtocol, []byte{uint8(protocol.ProtocolCAN)})
	data := []byte("7DF 02 01 0D -> 7E8 03 41 0D 32\n")
	expectOK(protocol.CmdLoadBegin, parser.EncodeLoadBegin(uint32(len(data)), crc(data)))
	expectOK(protocol.CmdLoadData, data)
	expectOK(protocol.CmdLoadEnd, nil)
	expectOK(protocol.CmdStart, nil)

	var requests int
	for requests < 2 {
		f := nextFrame(t, frames)
		if f.Command == protocol.CmdEvent && f.Category == protocol.MsgRequest {
			assert.Equal(t, "7DF 02 01 0D", string(f.Payload))
			requests++
		}
	}
	assert.True(t, device.Started())
}
