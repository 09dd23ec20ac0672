// Package emulator implements the device side of the simulator link. It backs
// the in-process simulated port and the TCP emulator server.
package emulator

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

// FirmwareVersion 模拟固件版本
const FirmwareVersion = "2.4.1"

// MaxScenarioSize 设备可接收的最大文件
const MaxScenarioSize = 16 << 20

// exchange 一条请求/响应
type exchange struct {
	request  string
	response string
}

// Device 模拟器设备状态
type Device struct {
	mu sync.Mutex

	name       string
	connected  bool
	started    bool
	bootloader bool

	protocol protocol.Protocol
	rx       parser.PinSetting
	tx       parser.PinSetting

	loading  bool
	loadSize uint32
	loadCRC  uint32
	loadBuf  bytes.Buffer

	scenario  []byte
	exchanges []exchange
	cursor    int
	frames    uint64
}

// NewDevice 创建设备，上电默认 CAN，接收线 6 号、发送线 14 号引脚
func NewDevice(name string) *Device {
	return &Device{
		name:     name,
		protocol: protocol.ProtocolCAN,
		rx:       parser.PinSetting{Pin: protocol.Pin6, Millivolts: 5000, Ohms: 120},
		tx:       parser.PinSetting{Pin: protocol.Pin14, Millivolts: 5000, Ohms: 120},
	}
}

// Started 是否正在仿真
func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

// InBootloader 是否已擦除固件
func (d *Device) InBootloader() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bootloader
}

// Protocol 当前协议
func (d *Device) Protocol() protocol.Protocol {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.protocol
}

// Pins 当前引脚配置
func (d *Device) Pins() (rx, tx parser.PinSetting) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rx, d.tx
}

// ScenarioSize 已加载文件大小
func (d *Device) ScenarioSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.scenario)
}

// Handle 处理一个主机命令，返回应答及事件帧
func (d *Device) Handle(f *protocol.Frame) []*protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f.IsAck() || f.Command == protocol.CmdEvent {
		return nil
	}

	// bootloader 只等待升级工具，不再响应仿真命令
	if d.bootloader {
		return reply(f.Command, protocol.StatusBadState)
	}

	switch f.Command {
	case protocol.CmdHello:
		d.connected = true
		return reply(f.Command, protocol.StatusOK,
			parser.Event(protocol.MsgInfo, fmt.Sprintf("%s: simulator ready, firmware %s", d.name, FirmwareVersion)))
	case protocol.CmdGoodbye:
		d.connected = false
		d.started = false
		d.loading = false
		return reply(f.Command, protocol.StatusOK)
	}

	if !d.connected {
		return reply(f.Command, protocol.StatusBadState)
	}

	switch f.Command {
	case protocol.CmdSetProtocol:
		return d.setProtocol(f)
	case protocol.CmdSetRxPin, protocol.CmdSetTxPin:
		return d.setPin(f)
	case protocol.CmdLoadBegin:
		return d.loadBegin(f)
	case protocol.CmdLoadData:
		return d.loadData(f)
	case protocol.CmdLoadEnd:
		return d.loadEnd(f)
	case protocol.CmdStart:
		return d.start(f)
	case protocol.CmdStop:
		if !d.started {
			return reply(f.Command, protocol.StatusBadState)
		}
		d.started = false
		return reply(f.Command, protocol.StatusOK,
			parser.Event(protocol.MsgStatus, fmt.Sprintf("simulation stopped after %d frames", d.frames)))
	case protocol.CmdEraseFW:
		if d.started {
			return reply(f.Command, protocol.StatusBadState)
		}
		d.bootloader = true
		d.scenario = nil
		d.exchanges = nil
		return reply(f.Command, protocol.StatusOK,
			parser.Event(protocol.MsgWarning, "main firmware erased, jumping to bootloader"))
	default:
		return reply(f.Command, protocol.StatusRejected)
	}
}

func (d *Device) setProtocol(f *protocol.Frame) []*protocol.Frame {
	if d.started {
		return reply(f.Command, protocol.StatusBadState)
	}
	if len(f.Payload) != 1 {
		return reply(f.Command, protocol.StatusRejected)
	}
	p := protocol.Protocol(f.Payload[0])
	if !p.Supported() {
		return reply(f.Command, protocol.StatusRejected)
	}
	if p != d.protocol {
		d.rx = parser.PinSetting{}
		d.tx = parser.PinSetting{}
	}
	d.protocol = p
	return reply(f.Command, protocol.StatusOK,
		parser.Event(protocol.MsgStatus, "protocol set to "+p.String()))
}

func (d *Device) setPin(f *protocol.Frame) []*protocol.Frame {
	if d.started {
		return reply(f.Command, protocol.StatusBadState)
	}
	s, err := parser.DecodePin(f.Payload)
	if err != nil {
		return reply(f.Command, protocol.StatusRejected)
	}

	if f.Command == protocol.CmdSetRxPin {
		if !protocol.ValidReceivePin(d.protocol, s.Pin) {
			return reply(f.Command, protocol.StatusRejected)
		}
		d.rx = s
	} else {
		if !protocol.ValidTransmitPin(d.protocol, s.Pin) {
			return reply(f.Command, protocol.StatusRejected)
		}
		d.tx = s
	}
	return reply(f.Command, protocol.StatusOK)
}

func (d *Device) loadBegin(f *protocol.Frame) []*protocol.Frame {
	if d.started {
		return reply(f.Command, protocol.StatusBadState)
	}
	size, crc, err := parser.DecodeLoadBegin(f.Payload)
	if err != nil || size == 0 || size > MaxScenarioSize {
		return reply(f.Command, protocol.StatusRejected)
	}
	d.loading = true
	d.loadSize = size
	d.loadCRC = crc
	d.loadBuf.Reset()
	return reply(f.Command, protocol.StatusOK)
}

func (d *Device) loadData(f *protocol.Frame) []*protocol.Frame {
	if !d.loading {
		return reply(f.Command, protocol.StatusBadState)
	}
	if uint32(d.loadBuf.Len()+len(f.Payload)) > d.loadSize {
		d.loading = false
		return reply(f.Command, protocol.StatusRejected)
	}
	d.loadBuf.Write(f.Payload)
	return reply(f.Command, protocol.StatusOK)
}

func (d *Device) loadEnd(f *protocol.Frame) []*protocol.Frame {
	if !d.loading {
		return reply(f.Command, protocol.StatusBadState)
	}
	d.loading = false

	data := d.loadBuf.Bytes()
	if uint32(len(data)) != d.loadSize {
		return reply(f.Command, protocol.StatusRejected)
	}
	if crc32.ChecksumIEEE(data) != d.loadCRC {
		return reply(f.Command, protocol.StatusBadChecksum)
	}

	d.scenario = append([]byte(nil), data...)
	d.exchanges = parseExchanges(d.scenario)
	d.cursor = 0
	return reply(f.Command, protocol.StatusOK,
		parser.Event(protocol.MsgInfo, fmt.Sprintf("scenario stored: %d bytes, %d exchanges", len(d.scenario), len(d.exchanges))))
}

func (d *Device) start(f *protocol.Frame) []*protocol.Frame {
	if d.started || d.scenario == nil {
		return reply(f.Command, protocol.StatusBadState)
	}
	d.started = true
	d.frames = 0
	return reply(f.Command, protocol.StatusOK,
		parser.Event(protocol.MsgStatus, fmt.Sprintf("simulation started on %s", d.protocol)))
}

// Tick 仿真运行时周期调用，返回要上报的事件
func (d *Device) Tick() []*protocol.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.frames++

	if len(d.exchanges) == 0 {
		return []*protocol.Frame{
			parser.Event(protocol.MsgStatus, fmt.Sprintf("running %s, %d frames", d.protocol, d.frames)),
		}
	}

	ex := d.exchanges[d.cursor]
	d.cursor = (d.cursor + 1) % len(d.exchanges)
	out := []*protocol.Frame{parser.Event(protocol.MsgRequest, ex.request)}
	if ex.response != "" {
		out = append(out, parser.Event(protocol.MsgResponse, ex.response))
	}
	return out
}

// parseExchanges 解析 "请求 -> 响应" 行，其余内容忽略
func parseExchanges(data []byte) []exchange {
	var out []exchange
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		req, resp, ok := strings.Cut(line, "->")
		if !ok {
			continue
		}
		out = append(out, exchange{request: strings.TrimSpace(req), response: strings.TrimSpace(resp)})
	}
	return out
}

func reply(cmd uint16, status uint8, events ...*protocol.Frame) []*protocol.Frame {
	return append([]*protocol.Frame{parser.Ack(cmd, status)}, events...)
}
