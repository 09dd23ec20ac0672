package parser

import (
	"encoding/binary"
	"fmt"

	"obd-simulator/pkg/protocol"
)

// PinPayloadSize 引脚配置负载长度
const PinPayloadSize = 6

// LoadBeginPayloadSize 文件传输起始负载长度
const LoadBeginPayloadSize = 8

// PinSetting 设备侧的引脚数值配置
type PinSetting struct {
	Pin        protocol.PinName
	Inverted   bool
	Millivolts uint16
	Ohms       uint16
}

// EncodePin 编码引脚配置
func EncodePin(s PinSetting) []byte {
	b := make([]byte, PinPayloadSize)
	b[0] = uint8(s.Pin)
	if s.Inverted {
		b[1] = 1
	}
	binary.BigEndian.PutUint16(b[2:4], s.Millivolts)
	binary.BigEndian.PutUint16(b[4:6], s.Ohms)
	return b
}

// DecodePin 解码引脚配置
func DecodePin(b []byte) (PinSetting, error) {
	if len(b) != PinPayloadSize {
		return PinSetting{}, fmt.Errorf("引脚负载长度错误: %d", len(b))
	}
	return PinSetting{
		Pin:        protocol.PinName(b[0]),
		Inverted:   b[1] != 0,
		Millivolts: binary.BigEndian.Uint16(b[2:4]),
		Ohms:       binary.BigEndian.Uint16(b[4:6]),
	}, nil
}

// EncodeLoadBegin 编码文件大小与 CRC32
func EncodeLoadBegin(size, crc uint32) []byte {
	b := make([]byte, LoadBeginPayloadSize)
	binary.BigEndian.PutUint32(b[0:4], size)
	binary.BigEndian.PutUint32(b[4:8], crc)
	return b
}

// DecodeLoadBegin 解码文件大小与 CRC32
func DecodeLoadBegin(b []byte) (size, crc uint32, err error) {
	if len(b) != LoadBeginPayloadSize {
		return 0, 0, fmt.Errorf("文件头负载长度错误: %d", len(b))
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), nil
}

// Command 构造主机命令帧
func Command(cmd uint16, payload []byte) *protocol.Frame {
	return &protocol.Frame{Command: cmd, Payload: payload}
}

// Ack 构造应答帧
func Ack(cmd uint16, status uint8) *protocol.Frame {
	return &protocol.Frame{Command: cmd | protocol.AckFlag, Status: status}
}

// Event 构造事件帧，文本超长时截断
func Event(category protocol.MsgType, text string) *protocol.Frame {
	payload := []byte(text)
	if len(payload) > protocol.MaxPayloadSize {
		payload = payload[:protocol.MaxPayloadSize]
	}
	return &protocol.Frame{Command: protocol.CmdEvent, Category: category, Payload: payload}
}
