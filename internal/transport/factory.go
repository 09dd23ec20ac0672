package transport

import (
	"github.com/sirupsen/logrus"

	"obd-simulator/internal/config"
)

// NewFromConfig 按配置创建带端口登记的 Dialer
func NewFromConfig(cfg *config.Config, log logrus.FieldLogger) *Registry {
	router := NewRouter(
		&SerialDialer{BaudRate: cfg.Device.BaudRate, ReadTimeout: cfg.Device.ReadTimeout},
		&TCPDialer{Timeout: cfg.Device.DialTimeout},
		&SimulatedDialer{Log: log, EventInterval: cfg.Emulator.EventInterval},
		cfg.Device.SimulatedPorts,
	)
	return NewRegistry(router)
}
