package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Frame 设备协议帧
type Frame struct {
	Command  uint16
	Category MsgType
	Status   uint8
	Payload  []byte
}

// EventMessage 设备事件消息
type EventMessage struct {
	CommPort  string    `json:"comm_port"`
	Category  MsgType   `json:"category"`
	Text      string    `json:"text"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MsgType 事件消息类别
type MsgType uint8

const (
	MsgInfo MsgType = iota
	MsgStatus
	MsgWarning
	MsgError
	MsgRequest
	MsgResponse
)

func (m MsgType) String() string {
	switch m {
	case MsgInfo:
		return "info"
	case MsgStatus:
		return "status"
	case MsgWarning:
		return "warning"
	case MsgError:
		return "error"
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	default:
		return "unknown"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (m MsgType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (m *MsgType) UnmarshalText(text []byte) error {
	for c := MsgInfo; c <= MsgResponse; c++ {
		if c.String() == string(text) {
			*m = c
			return nil
		}
	}
	return fmt.Errorf("未知消息类别: %q", text)
}

// 协议常量
const (
	// 协议头
	ProtocolHeaderSize = 8
	ProtocolMagic      = 0xAA55
	ChecksumSize       = 1
	MaxPayloadSize     = 1024

	// 主机命令
	CmdHello       uint16 = 0x0001
	CmdGoodbye     uint16 = 0x0002
	CmdSetProtocol uint16 = 0x0010
	CmdSetRxPin    uint16 = 0x0011
	CmdSetTxPin    uint16 = 0x0012
	CmdLoadBegin   uint16 = 0x0020
	CmdLoadData    uint16 = 0x0021
	CmdLoadEnd     uint16 = 0x0022
	CmdStart       uint16 = 0x0030
	CmdStop        uint16 = 0x0031
	CmdEraseFW     uint16 = 0x0040

	// 设备上报
	CmdEvent uint16 = 0x0100
	AckFlag  uint16 = 0x8000

	// 状态码
	StatusOK          = 0x00
	StatusRejected    = 0x01
	StatusBadState    = 0x02
	StatusBadChecksum = 0x03
)

// IsAck 判断是否为应答帧
func (f *Frame) IsAck() bool {
	return f.Command&AckFlag != 0
}

// AckOf 应答对应的命令
func (f *Frame) AckOf() uint16 {
	return f.Command &^ AckFlag
}

// CommandName 命令名称，用于日志
func CommandName(cmd uint16) string {
	switch cmd &^ AckFlag {
	case CmdHello:
		return "HELLO"
	case CmdGoodbye:
		return "GOODBYE"
	case CmdSetProtocol:
		return "SET_PROTOCOL"
	case CmdSetRxPin:
		return "SET_RX_PIN"
	case CmdSetTxPin:
		return "SET_TX_PIN"
	case CmdLoadBegin:
		return "LOAD_BEGIN"
	case CmdLoadData:
		return "LOAD_DATA"
	case CmdLoadEnd:
		return "LOAD_END"
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	case CmdEraseFW:
		return "ERASE_FW"
	case CmdEvent:
		return "EVENT"
	default:
		return "UNKNOWN"
	}
}

// CommandByName 按名称查找命令字，不区分大小写
func CommandByName(name string) (uint16, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, cmd := range []uint16{
		CmdHello, CmdGoodbye, CmdSetProtocol, CmdSetRxPin, CmdSetTxPin,
		CmdLoadBegin, CmdLoadData, CmdLoadEnd, CmdStart, CmdStop, CmdEraseFW, CmdEvent,
	} {
		if CommandName(cmd) == name {
			return cmd, true
		}
	}
	return 0, false
}
