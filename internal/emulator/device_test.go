package emulator

import (
	"hash/crc32"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

func send(t *testing.T, d *Device, cmd uint16, payload []byte) []*protocol.Frame {
	t.Helper()
	out := d.Handle(parser.Command(cmd, payload))
	require.NotEmpty(t, out)
	require.True(t, out[0].IsAck())
	require.Equal(t, cmd, out[0].AckOf())
	return out
}

func status(t *testing.T, d *Device, cmd uint16, payload []byte) uint8 {
	t.Helper()
	return send(t, d, cmd, payload)[0].Status
}

func load(t *testing.T, d *Device, data []byte) uint8 {
	t.Helper()
	if s := status(t, d, protocol.CmdLoadBegin, parser.EncodeLoadBegin(uint32(len(data)), crc32.ChecksumIEEE(data))); s != protocol.StatusOK {
		return s
	}
	if s := status(t, d, protocol.CmdLoadData, data); s != protocol.StatusOK {
		return s
	}
	return status(t, d, protocol.CmdLoadEnd, nil)
}

func TestDeviceRequiresHello(t *testing.T) {
	d := NewDevice("COM_SIM")
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdStart, nil))

	out := send(t, d, protocol.CmdHello, nil)
	assert.Equal(t, uint8(protocol.StatusOK), out[0].Status)
	require.Len(t, out, 2)
	assert.Contains(t, string(out[1].Payload), FirmwareVersion)
}

func TestDeviceFullCycle(t *testing.T) {
	d := NewDevice("COM_SIM")
	status(t, d, protocol.CmdHello, nil)

	assert.Equal(t, uint8(protocol.StatusOK), status(t, d, protocol.CmdSetProtocol, []byte{uint8(protocol.ProtocolCAN)}))
	assert.Equal(t, uint8(protocol.StatusOK), status(t, d, protocol.CmdSetRxPin,
		parser.EncodePin(parser.PinSetting{Pin: protocol.Pin6, Millivolts: 5000, Ohms: 120})))
	assert.Equal(t, uint8(protocol.StatusRejected), status(t, d, protocol.CmdSetTxPin,
		parser.EncodePin(parser.PinSetting{Pin: protocol.Pin7})))

	// 未加载文件不能启动
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdStart, nil))

	require.Equal(t, uint8(protocol.StatusOK), load(t, d, []byte("# demo\n7DF 02 01 00 -> 7E8 06 41 00 BE 3F A8 13\nnoise\n")))
	assert.Greater(t, d.ScenarioSize(), 0)

	assert.Equal(t, uint8(protocol.StatusOK), status(t, d, protocol.CmdStart, nil))
	assert.True(t, d.Started())
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdLoadBegin, parser.EncodeLoadBegin(1, 0)))

	events := d.Tick()
	require.Len(t, events, 2)
	assert.Equal(t, protocol.MsgRequest, events[0].Category)
	assert.Equal(t, "7DF 02 01 00", string(events[0].Payload))
	assert.Equal(t, protocol.MsgResponse, events[1].Category)

	assert.Equal(t, uint8(protocol.StatusOK), status(t, d, protocol.CmdStop, nil))
	assert.Nil(t, d.Tick())
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdStop, nil))
}

func TestDeviceRejectsCorruptTransfer(t *testing.T) {
	d := NewDevice("COM_SIM")
	status(t, d, protocol.CmdHello, nil)

	data := []byte("7DF 01 -> 7E8 41")
	status(t, d, protocol.CmdLoadBegin, parser.EncodeLoadBegin(uint32(len(data)), 12345))
	status(t, d, protocol.CmdLoadData, data)
	assert.Equal(t, uint8(protocol.StatusBadChecksum), status(t, d, protocol.CmdLoadEnd, nil))
	assert.Zero(t, d.ScenarioSize())

	status(t, d, protocol.CmdLoadBegin, parser.EncodeLoadBegin(2, 0))
	assert.Equal(t, uint8(protocol.StatusRejected), status(t, d, protocol.CmdLoadData, data))
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdLoadEnd, nil))
}

func TestDeviceStatusTickWithoutExchanges(t *testing.T) {
	d := NewDevice("COM_SIM")
	status(t, d, protocol.CmdHello, nil)
	status(t, d, protocol.CmdSetProtocol, []byte{uint8(protocol.ProtocolISO9141)})
	require.Equal(t, uint8(protocol.StatusOK), load(t, d, []byte("binary-ish payload")))
	require.Equal(t, uint8(protocol.StatusOK), status(t, d, protocol.CmdStart, nil))

	events := d.Tick()
	require.Len(t, events, 1)
	assert.Equal(t, protocol.MsgStatus, events[0].Category)
	assert.Contains(t, string(events[0].Payload), "ISO9141")
}

func TestDeviceEraseEntersBootloader(t *testing.T) {
	d := NewDevice("COM_SIM")
	status(t, d, protocol.CmdHello, nil)

	out := send(t, d, protocol.CmdEraseFW, nil)
	assert.Equal(t, uint8(protocol.StatusOK), out[0].Status)
	assert.True(t, d.InBootloader())

	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdHello, nil))
	assert.Equal(t, uint8(protocol.StatusBadState), status(t, d, protocol.CmdSetProtocol, []byte{1}))
}

func TestDeviceProtocolChangeResetsPins(t *testing.T) {
	d := NewDevice("COM_SIM")
	status(t, d, protocol.CmdHello, nil)
	assert.Equal(t, protocol.ProtocolCAN, d.Protocol())
	status(t, d, protocol.CmdSetRxPin, parser.EncodePin(parser.PinSetting{Pin: protocol.Pin3}))

	rx, _ := d.Pins()
	assert.Equal(t, protocol.Pin3, rx.Pin)

	status(t, d, protocol.CmdSetProtocol, []byte{uint8(protocol.ProtocolJ1850PWM)})
	rx, _ = d.Pins()
	assert.Equal(t, protocol.PinNone, rx.Pin)
	assert.Equal(t, protocol.ProtocolJ1850PWM, d.Protocol())

	assert.Equal(t, uint8(protocol.StatusRejected), status(t, d, protocol.CmdSetProtocol, []byte{0}))
	assert.Equal(t, uint8(protocol.StatusRejected), status(t, d, 0x0777, nil))
}
