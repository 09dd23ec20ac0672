package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Protocol 支持的通讯协议
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolCAN
	ProtocolJ1939
	ProtocolISO9141
	ProtocolKWP2000
	ProtocolJ1850PWM
	ProtocolJ1850VPW
)

var protocolNames = map[Protocol]string{
	ProtocolCAN:      "CAN",
	ProtocolJ1939:    "J1939",
	ProtocolISO9141:  "ISO9141",
	ProtocolKWP2000:  "KWP2000",
	ProtocolJ1850PWM: "J1850_PWM",
	ProtocolJ1850VPW: "J1850_VPW",
}

func (p Protocol) String() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
}

// Supported 是否为支持的协议
func (p Protocol) Supported() bool {
	_, ok := catalogs[p]
	return ok
}

// MarshalText 实现 encoding.TextMarshaler
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *Protocol) UnmarshalText(text []byte) error {
	v, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParseProtocol 协议名解析，忽略大小写以及 '-'、'_'、空格
func ParseProtocol(name string) (Protocol, error) {
	key := normalizeName(name)
	for p, n := range protocolNames {
		if normalizeName(n) == key {
			return p, nil
		}
	}
	return ProtocolUnknown, NewError(KindInvalidArgument, "parse protocol", fmt.Errorf("未知协议: %q", name))
}

func normalizeName(s string) string {
	r := strings.NewReplacer("-", "", "_", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(s)))
}

// pinCatalog 单个协议允许的引脚
type pinCatalog struct {
	rx []PinName // Rx / CAN-H
	tx []PinName // Tx / CAN-L
}

// 初始化后只读
var catalogs = map[Protocol]pinCatalog{
	ProtocolCAN: {
		rx: []PinName{Pin6, Pin3, Pin1, Pin12},
		tx: []PinName{Pin14, Pin11, Pin9, Pin13},
	},
	ProtocolJ1939: {
		rx: []PinName{Pin6, Pin3},
		tx: []PinName{Pin14, Pin11},
	},
	ProtocolISO9141: {
		rx: []PinName{Pin7, Pin1, Pin8, Pin12, Pin13},
		tx: []PinName{Pin15, PinNone},
	},
	ProtocolKWP2000: {
		rx: []PinName{Pin7, Pin1, Pin8, Pin12, Pin13},
		tx: []PinName{Pin15, PinNone},
	},
	ProtocolJ1850PWM: {
		rx: []PinName{Pin2},
		tx: []PinName{Pin10},
	},
	ProtocolJ1850VPW: {
		rx: []PinName{Pin2},
		tx: []PinName{PinNone},
	},
}

// SupportedProtocols 返回协议名到协议的映射（每次返回新副本）
func SupportedProtocols() map[string]Protocol {
	out := make(map[string]Protocol, len(protocolNames))
	for p, n := range protocolNames {
		out[n] = p
	}
	return out
}

// ProtocolList 按枚举顺序返回支持的协议
func ProtocolList() []Protocol {
	list := make([]Protocol, 0, len(catalogs))
	for p := range catalogs {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	return list
}

// ReceivePinCatalog 返回协议 Rx/CAN-H 可用引脚，key 为显示名
func ReceivePinCatalog(p Protocol) map[string]PinName {
	return pinMap(catalogs[p].rx)
}

// TransmitPinCatalog 返回协议 Tx/CAN-L 可用引脚，key 为显示名
func TransmitPinCatalog(p Protocol) map[string]PinName {
	return pinMap(catalogs[p].tx)
}

// ValidReceivePin 引脚是否可用于协议的接收线
func ValidReceivePin(p Protocol, pin PinName) bool {
	return containsPin(catalogs[p].rx, pin)
}

// ValidTransmitPin 引脚是否可用于协议的发送线
func ValidTransmitPin(p Protocol, pin PinName) bool {
	return containsPin(catalogs[p].tx, pin)
}

func pinMap(pins []PinName) map[string]PinName {
	out := make(map[string]PinName, len(pins))
	for _, pin := range pins {
		out[pin.Label()] = pin
	}
	return out
}

func containsPin(pins []PinName, pin PinName) bool {
	for _, p := range pins {
		if p == pin {
			return true
		}
	}
	return false
}
