package server

import (
	"net"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/internal/config"
	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

func startServer(t *testing.T, maxConn int) *TCPServer {
	t.Helper()
	cfg := config.GetDefaultConfig().Emulator
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.MaxConnections = maxConn
	cfg.ReadTimeout = 100 * time.Millisecond

	log, _ := logtest.NewNullLogger()
	s := NewTCPServer(cfg, log)

	errc := make(chan error, 1)
	go func() { errc <- s.Start() }()
	require.NotNil(t, s.Addr())

	t.Cleanup(func() {
		s.Shutdown(2 * time.Second)
		assert.NoError(t, <-errc)
	})
	return s
}

func hello(t *testing.T, conn net.Conn) *protocol.Frame {
	t.Helper()
	data, err := parser.Encode(parser.Command(protocol.CmdHello, nil))
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)

	d := parser.NewDecoder()
	buf := make([]byte, 512)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		f, err := d.Next()
		require.NoError(t, err)
		if f != nil {
			return f
		}
		n, err := conn.Read(buf)
		require.NoError(t, err)
		d.Feed(buf[:n])
	}
}

func TestServerServesDevices(t *testing.T) {
	s := startServer(t, 4)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ack := hello(t, conn)
	assert.True(t, ack.IsAck())
	assert.Equal(t, uint8(protocol.StatusOK), ack.Status)
}

func TestServerRejectsOverLimit(t *testing.T) {
	s := startServer(t, 1)

	first, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	hello(t, first)

	second, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(make([]byte, 1))
	assert.Error(t, err)
}
