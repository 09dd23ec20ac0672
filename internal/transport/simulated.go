package transport

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/emulator"
	"obd-simulator/internal/handler"
	"obd-simulator/pkg/protocol"
)

// SimulatedDialer 进程内模拟设备，每次绑定创建一台新设备
type SimulatedDialer struct {
	Log           logrus.FieldLogger
	EventInterval time.Duration

	// OnDevice 测试中用于观察设备状态
	OnDevice func(name string, d *emulator.Device)
}

func (d *SimulatedDialer) Dial(ctx context.Context, name string) (Port, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.NewError(protocol.KindTransportUnavailable, "bind", err)
	}

	host, dev := net.Pipe()
	device := emulator.NewDevice(name)
	if d.OnDevice != nil {
		d.OnDevice(name, device)
	}

	log := d.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := handler.NewConnectionHandler(dev, name, device, log, 0, 0, 0, d.EventInterval)
	go h.Handle()

	return &connPort{Conn: host, name: name}, nil
}
