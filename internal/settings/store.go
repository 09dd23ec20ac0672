// Package settings holds the protocol and pin configuration that a session
// pushes to the simulator. Values are accepted as set and validated on use.
package settings

import (
	"fmt"
	"sync"

	"obd-simulator/internal/config"
	"obd-simulator/pkg/protocol"
)

// Snapshot 某一时刻的配置副本
type Snapshot struct {
	Protocol protocol.Protocol
	CommPort string
	RxPin    protocol.PinProfile
	TxPin    protocol.PinProfile
	Revision uint64
}

// Validate 检查引脚是否属于协议目录以及电气参数是否可解析
func (s Snapshot) Validate() error {
	const op = "validate configuration"

	if !s.Protocol.Supported() {
		return protocol.Errorf(protocol.KindInvalidConfiguration, op, "未设置有效协议: %s", s.Protocol)
	}
	if !protocol.ValidReceivePin(s.Protocol, s.RxPin.Pin) {
		return protocol.Errorf(protocol.KindInvalidConfiguration, op, "引脚 %s 不能用于 %s 接收线", s.RxPin.Pin, s.Protocol)
	}
	if !protocol.ValidTransmitPin(s.Protocol, s.TxPin.Pin) {
		return protocol.Errorf(protocol.KindInvalidConfiguration, op, "引脚 %s 不能用于 %s 发送线", s.TxPin.Pin, s.Protocol)
	}
	if _, _, err := s.RxPin.Electrical(); err != nil {
		return protocol.NewError(protocol.KindInvalidConfiguration, op, fmt.Errorf("接收线: %w", err))
	}
	if s.TxPin.Pin != protocol.PinNone {
		if _, _, err := s.TxPin.Electrical(); err != nil {
			return protocol.NewError(protocol.KindInvalidConfiguration, op, fmt.Errorf("发送线: %w", err))
		}
	}
	return nil
}

// Store 协议配置存储，可在会话建立前设置
type Store struct {
	mu       sync.RWMutex
	protocol protocol.Protocol
	commPort string
	rxPin    protocol.PinProfile
	txPin    protocol.PinProfile
	revision uint64
}

// NewStore 创建空配置
func NewStore() *Store {
	return &Store{}
}

// NewStoreFromConfig 用配置文件初始化
func NewStoreFromConfig(cfg *config.Config) *Store {
	s := NewStore()
	s.ApplyConfig(cfg.Device.CommPort, cfg.Simulator)
	return s
}

// ApplyConfig 批量写入配置
func (s *Store) ApplyConfig(commPort string, sc config.SimulatorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commPort = commPort
	s.protocol = sc.Protocol
	s.rxPin = sc.RxPin
	s.txPin = sc.TxPin
	s.revision++
}

// ListSupportedProtocols 返回支持的协议
func (s *Store) ListSupportedProtocols() map[string]protocol.Protocol {
	return protocol.SupportedProtocols()
}

// ListReceivePinCatalog 协议接收线（Rx/CAN-H）可用引脚
func (s *Store) ListReceivePinCatalog(p protocol.Protocol) map[string]protocol.PinName {
	return protocol.ReceivePinCatalog(p)
}

// ListTransmitPinCatalog 协议发送线（Tx/CAN-L）可用引脚
func (s *Store) ListTransmitPinCatalog(p protocol.Protocol) map[string]protocol.PinName {
	return protocol.TransmitPinCatalog(p)
}

// SetActiveProtocol 设置当前协议，不校验已有引脚
func (s *Store) SetActiveProtocol(p protocol.Protocol) error {
	if !p.Supported() {
		return protocol.Errorf(protocol.KindInvalidArgument, "set protocol", "不支持的协议: %s", p)
	}

	s.mu.Lock()
	s.protocol = p
	s.revision++
	s.mu.Unlock()
	return nil
}

// SetActiveProtocolName 按名称设置当前协议
func (s *Store) SetActiveProtocolName(name string) error {
	p, err := protocol.ParseProtocol(name)
	if err != nil {
		return err
	}
	return s.SetActiveProtocol(p)
}

func (s *Store) ActiveProtocol() protocol.Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

// SetCommPort 设置目标端口，与是否已连接无关
func (s *Store) SetCommPort(name string) {
	s.mu.Lock()
	s.commPort = name
	s.revision++
	s.mu.Unlock()
}

func (s *Store) CommPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commPort
}

// SetReceivePinProfile 设置接收线配置，引脚在启动时校验
func (s *Store) SetReceivePinProfile(pin protocol.PinName, voltageLevel string, inverted bool, resistor string) {
	s.mu.Lock()
	s.rxPin = protocol.PinProfile{Pin: pin, VoltageLevel: voltageLevel, Inverted: inverted, Resistor: resistor}
	s.revision++
	s.mu.Unlock()
}

func (s *Store) ReceivePinProfile() protocol.PinProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rxPin
}

// SetTransmitPinProfile 设置发送线配置，引脚在启动时校验
func (s *Store) SetTransmitPinProfile(pin protocol.PinName, voltageLevel string, inverted bool, resistor string) {
	s.mu.Lock()
	s.txPin = protocol.PinProfile{Pin: pin, VoltageLevel: voltageLevel, Inverted: inverted, Resistor: resistor}
	s.revision++
	s.mu.Unlock()
}

func (s *Store) TransmitPinProfile() protocol.PinProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txPin
}

// Snapshot 返回当前配置副本
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Protocol: s.protocol,
		CommPort: s.commPort,
		RxPin:    s.rxPin,
		TxPin:    s.txPin,
		Revision: s.revision,
	}
}

// Validate 校验当前配置
func (s *Store) Validate() error {
	return s.Snapshot().Validate()
}
