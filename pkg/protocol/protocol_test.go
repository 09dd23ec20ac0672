package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseProtocol(t *testing.T) {
	cases := map[string]Protocol{
		"CAN":       ProtocolCAN,
		"can":       ProtocolCAN,
		"j1850-pwm": ProtocolJ1850PWM,
		"J1850 VPW": ProtocolJ1850VPW,
		" kwp2000 ": ProtocolKWP2000,
		"iso_9141":  ProtocolISO9141,
	}
	for in, want := range cases {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseProtocol("FlexRay")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
	assert.False(t, errors.Is(err, ErrInvalidState))
}

func TestSupportedProtocolsIsACopy(t *testing.T) {
	m := SupportedProtocols()
	require.Len(t, m, len(ProtocolList()))
	delete(m, "CAN")

	assert.Contains(t, SupportedProtocols(), "CAN")
	assert.False(t, ProtocolUnknown.Supported())
	assert.True(t, ProtocolCAN.Supported())
}

func TestPinCatalogs(t *testing.T) {
	rx := ReceivePinCatalog(ProtocolCAN)
	assert.Equal(t, Pin6, rx["DLC Pin 6"])
	tx := TransmitPinCatalog(ProtocolCAN)
	assert.Equal(t, Pin14, tx["DLC Pin 14"])

	assert.True(t, ValidReceivePin(ProtocolCAN, Pin6))
	assert.False(t, ValidReceivePin(ProtocolCAN, Pin7))
	assert.True(t, ValidTransmitPin(ProtocolJ1850VPW, PinNone))
	assert.Empty(t, ReceivePinCatalog(ProtocolUnknown))

	for _, p := range ProtocolList() {
		assert.NotEmpty(t, ReceivePinCatalog(p), p.String())
		assert.NotEmpty(t, TransmitPinCatalog(p), p.String())
	}
}

func TestParsePinName(t *testing.T) {
	cases := map[string]PinName{
		"PIN_6":     Pin6,
		"pin14":     Pin14,
		"7":         Pin7,
		"DLC Pin 2": Pin2,
		"none":      PinNone,
		"PIN_NONE":  PinNone,
	}
	for in, want := range cases {
		got, err := ParsePinName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"PIN_17", "PIN_0", "x"} {
		_, err := ParsePinName(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, bad)
	}
}

func TestPinProfileElectrical(t *testing.T) {
	mv, ohms, err := PinProfile{Pin: Pin6, VoltageLevel: "5V", Resistor: "120ohm"}.Electrical()
	require.NoError(t, err)
	assert.Equal(t, uint16(5000), mv)
	assert.Equal(t, uint16(120), ohms)

	mv, ohms, err = PinProfile{VoltageLevel: "3.3v", Resistor: "1k"}.Electrical()
	require.NoError(t, err)
	assert.Equal(t, uint16(3300), mv)
	assert.Equal(t, uint16(1000), ohms)

	mv, ohms, err = PinProfile{VoltageLevel: "1200mV", Resistor: "none"}.Electrical()
	require.NoError(t, err)
	assert.Equal(t, uint16(1200), mv)
	assert.Zero(t, ohms)

	_, err = ParseResistance("120Ω")
	assert.NoError(t, err)

	_, _, err = PinProfile{VoltageLevel: "high"}.Electrical()
	assert.Error(t, err)
	_, _, err = PinProfile{VoltageLevel: ""}.Electrical()
	assert.Error(t, err)
	_, _, err = PinProfile{VoltageLevel: "5V", Resistor: "a lot"}.Electrical()
	assert.Error(t, err)
	_, err = ParseVoltage("100V")
	assert.Error(t, err)

	for _, v := range []string{"NaN", "nanV", "infV", "-Inf", "+infmV"} {
		_, err = ParseVoltage(v)
		assert.Error(t, err, v)
	}
	for _, r := range []string{"nan", "nanohm", "infk", "Inf"} {
		_, err = ParseResistance(r)
		assert.Error(t, err, r)
	}
}

func TestPinProfileYAML(t *testing.T) {
	var p PinProfile
	err := yaml.Unmarshal([]byte("pin: PIN_6\nvoltage: 5V\ninverted: true\nresistor: 120ohm\n"), &p)
	require.NoError(t, err)
	assert.Equal(t, PinProfile{Pin: Pin6, VoltageLevel: "5V", Inverted: true, Resistor: "120ohm"}, p)
}

func TestEventMessageJSON(t *testing.T) {
	data, err := json.Marshal(EventMessage{CommPort: "COM3", Category: MsgWarning, Text: "hi"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"category":"warning"`)

	var back EventMessage
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, MsgWarning, back.Category)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", Errorf(KindScenarioLoadFailed, "load scenario", "文件为空"))
	assert.ErrorIs(t, err, ErrScenarioLoadFailed)
	assert.Equal(t, KindScenarioLoadFailed, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "load scenario: scenario load failed")

	cause := errors.New("io")
	e := NewError(KindTransportUnavailable, "open", cause)
	assert.ErrorIs(t, e, cause)
	assert.NotErrorIs(t, e, ErrFirmwareEraseFailed)
}

func TestFrameAck(t *testing.T) {
	f := Frame{Command: AckFlag | CmdStart}
	assert.True(t, f.IsAck())
	assert.Equal(t, CmdStart, f.AckOf())
	assert.Equal(t, "START", CommandName(f.Command))
}

func TestCommandByName(t *testing.T) {
	cmd, ok := CommandByName("load_begin")
	require.True(t, ok)
	assert.Equal(t, CmdLoadBegin, cmd)

	_, ok = CommandByName("UNKNOWN")
	assert.False(t, ok)
}
