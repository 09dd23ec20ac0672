package transport

import (
	"context"
	"time"

	"go.bug.st/serial"

	"obd-simulator/pkg/protocol"
)

// SerialDialer 打开本机串口
type SerialDialer struct {
	BaudRate    int
	ReadTimeout time.Duration
}

func (d *SerialDialer) Dial(ctx context.Context, name string) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewError(protocol.KindTransportUnavailable, "bind", err)
	}

	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, protocol.NewError(protocol.KindTransportUnavailable, "bind", err)
	}

	// 超时读返回 0 字节，读取协程据此轮询
	if d.ReadTimeout > 0 {
		if err := p.SetReadTimeout(d.ReadTimeout); err != nil {
			p.Close()
			return nil, protocol.NewError(protocol.KindTransportUnavailable, "bind", err)
		}
	}
	p.ResetInputBuffer()

	return &serialPort{Port: p, name: name}, nil
}

type serialPort struct {
	serial.Port
	name string
}

func (p *serialPort) Name() string {
	return p.name
}

// ListSerialPorts 列出本机串口
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
