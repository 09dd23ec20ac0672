package transport

import (
	"context"
	"net"
	"strings"
	"time"

	"obd-simulator/pkg/protocol"
)

// TCPDialer 连接 TCP 上的模拟器，端口名形如 tcp://127.0.0.1:7700
type TCPDialer struct {
	Timeout time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context, name string) (Port, error) {
	addr := name
	if len(addr) >= len(TCPScheme) && strings.EqualFold(addr[:len(TCPScheme)], TCPScheme) {
		addr = addr[len(TCPScheme):]
	}

	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransportUnavailable, "bind", err)
	}
	return &connPort{Conn: conn, name: name}, nil
}

// connPort 基于 net.Conn 的链路
type connPort struct {
	net.Conn
	name string
}

func (p *connPort) Name() string {
	return p.name
}
