package parser

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"obd-simulator/pkg/protocol"
)

// Encode 编码协议帧
func Encode(f *protocol.Frame) ([]byte, error) {
	if len(f.Payload) > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("负载过长: %d bytes", len(f.Payload))
	}

	size := protocol.ProtocolHeaderSize + len(f.Payload) + protocol.ChecksumSize
	packet := make([]byte, size)

	binary.BigEndian.PutUint16(packet[0:2], protocol.ProtocolMagic)
	binary.BigEndian.PutUint16(packet[2:4], f.Command)
	packet[4] = uint8(f.Category)
	packet[5] = f.Status
	binary.BigEndian.PutUint16(packet[6:8], uint16(len(f.Payload)))
	copy(packet[protocol.ProtocolHeaderSize:], f.Payload)
	packet[size-1] = Checksum(packet[:size-1])

	return packet, nil
}

// Parse 解析一个完整帧
func Parse(data []byte) (*protocol.Frame, error) {
	// 检查数据长度
	if len(data) < protocol.ProtocolHeaderSize+protocol.ChecksumSize {
		return nil, fmt.Errorf("数据长度不足: %d bytes", len(data))
	}

	// 解析协议头
	magic := binary.BigEndian.Uint16(data[0:2])
	if magic != protocol.ProtocolMagic {
		return nil, fmt.Errorf("协议头错误: 0x%04X", magic)
	}

	length := int(binary.BigEndian.Uint16(data[6:8]))
	if length > protocol.MaxPayloadSize {
		return nil, fmt.Errorf("负载长度错误: %d", length)
	}
	total := protocol.ProtocolHeaderSize + length + protocol.ChecksumSize
	if len(data) != total {
		return nil, fmt.Errorf("帧长度不匹配: 期望 %d, 实际 %d", total, len(data))
	}

	if !ValidateChecksum(data) {
		return nil, fmt.Errorf("校验和错误")
	}

	payload := make([]byte, length)
	copy(payload, data[protocol.ProtocolHeaderSize:protocol.ProtocolHeaderSize+length])

	return &protocol.Frame{
		Command:  binary.BigEndian.Uint16(data[2:4]),
		Category: protocol.MsgType(data[4]),
		Status:   data[5],
		Payload:  payload,
	}, nil
}

// Checksum 累加校验
func Checksum(data []byte) uint8 {
	var sum uint8
	for _, b := range data {
		sum += b
	}
	return sum
}

// ValidateChecksum 验证校验和，最后一个字节为校验位
func ValidateChecksum(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return Checksum(data[:len(data)-1]) == data[len(data)-1]
}

// Decoder 字节流分帧
type Decoder struct {
	buf     []byte
	dropped int
}

// NewDecoder 创建分帧器
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed 写入接收到的字节
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
}

// Dropped 因同步丢弃的字节数
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Next 返回下一个完整帧；数据不足时返回 nil, nil。
// 遇到损坏帧时跳过一个字节重新同步并返回错误。
func (d *Decoder) Next() (*protocol.Frame, error) {
	magic := []byte{protocol.ProtocolMagic >> 8, protocol.ProtocolMagic & 0xFF}

	idx := bytes.Index(d.buf, magic)
	if idx < 0 {
		// 保留最后一个字节，可能是下一个帧头的一半
		if n := len(d.buf); n > 1 {
			d.discard(n - 1)
		}
		return nil, nil
	}
	if idx > 0 {
		d.discard(idx)
	}

	if len(d.buf) < protocol.ProtocolHeaderSize {
		return nil, nil
	}

	length := int(binary.BigEndian.Uint16(d.buf[6:8]))
	if length > protocol.MaxPayloadSize {
		d.discard(1)
		return nil, fmt.Errorf("负载长度错误: %d", length)
	}

	total := protocol.ProtocolHeaderSize + length + protocol.ChecksumSize
	if len(d.buf) < total {
		return nil, nil
	}

	frame, err := Parse(d.buf[:total])
	if err != nil {
		d.discard(1)
		return nil, err
	}
	d.buf = d.buf[total:]
	return frame, nil
}

func (d *Decoder) discard(n int) {
	d.dropped += n
	d.buf = d.buf[n:]
}
