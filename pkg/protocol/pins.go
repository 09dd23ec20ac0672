package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PinName DLC 接口引脚
type PinName uint8

const (
	PinNone PinName = iota
	Pin1
	Pin2
	Pin3
	Pin4
	Pin5
	Pin6
	Pin7
	Pin8
	Pin9
	Pin10
	Pin11
	Pin12
	Pin13
	Pin14
	Pin15
	Pin16
)

func (p PinName) String() string {
	if p == PinNone {
		return "PIN_NONE"
	}
	if p > Pin16 {
		return fmt.Sprintf("PIN_INVALID(%d)", uint8(p))
	}
	return fmt.Sprintf("PIN_%d", uint8(p))
}

// MarshalText 实现 encoding.TextMarshaler
func (p PinName) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *PinName) UnmarshalText(text []byte) error {
	v, err := ParsePinName(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Label 引脚显示名
func (p PinName) Label() string {
	if p == PinNone {
		return "Not connected"
	}
	return fmt.Sprintf("DLC Pin %d", uint8(p))
}

// ParsePinName 解析引脚名，支持 PIN_6 / pin6 / 6 / none
func ParsePinName(s string) (PinName, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "DLC")
	v = strings.Trim(v, " _-")
	v = strings.TrimPrefix(v, "PIN")
	v = strings.Trim(v, " _-")

	switch v {
	case "NONE", "NC":
		return PinNone, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > int(Pin16) {
		return PinNone, NewError(KindInvalidArgument, "parse pin", fmt.Errorf("未知引脚: %q", s))
	}
	return PinName(n), nil
}

// PinProfile 单根信号线的电气配置
type PinProfile struct {
	Pin          PinName `json:"pin" yaml:"pin"`
	VoltageLevel string  `json:"voltage_level" yaml:"voltage"`
	Inverted     bool    `json:"inverted" yaml:"inverted"`
	Resistor     string  `json:"resistor" yaml:"resistor"`
}

// Electrical 转换为设备可用的数值
func (p PinProfile) Electrical() (millivolts uint16, ohms uint16, err error) {
	millivolts, err = ParseVoltage(p.VoltageLevel)
	if err != nil {
		return 0, 0, err
	}
	ohms, err = ParseResistance(p.Resistor)
	if err != nil {
		return 0, 0, err
	}
	return millivolts, ohms, nil
}

// ParseVoltage 解析电压描述，如 "5V"、"3.3v"、"12"、"5000mV"，返回毫伏
func ParseVoltage(s string) (uint16, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("电压为空")
	}

	scale := 1000.0
	switch {
	case strings.HasSuffix(v, "mv"):
		scale = 1
		v = strings.TrimSuffix(v, "mv")
	case strings.HasSuffix(v, "v"):
		v = strings.TrimSuffix(v, "v")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || !finite(f) || f < 0 {
		return 0, fmt.Errorf("无效电压: %q", s)
	}
	mv := math.Round(f * scale)
	if mv > math.MaxUint16 {
		return 0, fmt.Errorf("电压超出范围: %q", s)
	}
	return uint16(mv), nil
}

// ParseResistance 解析电阻描述，如 "120ohm"、"120Ω"、"1k"、"none"，返回欧姆，0 表示不接
func ParseResistance(s string) (uint16, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "", "none", "open", "off":
		return 0, nil
	}

	for _, suffix := range []string{"ohms", "ohm", "ω", "r"} {
		v = strings.TrimSuffix(v, suffix)
	}

	scale := 1.0
	if strings.HasSuffix(v, "k") {
		scale = 1000
		v = strings.TrimSuffix(v, "k")
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || !finite(f) || f < 0 {
		return 0, fmt.Errorf("无效电阻: %q", s)
	}
	ohms := math.Round(f * scale)
	if ohms > math.MaxUint16 {
		return 0, fmt.Errorf("电阻超出范围: %q", s)
	}
	return uint16(ohms), nil
}

// finite ParseFloat 接受 NaN 与 Inf，需另外排除
func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
