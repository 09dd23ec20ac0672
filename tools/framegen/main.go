package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"hash/crc32"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

func main() {
	cmdName := flag.String("cmd", "HELLO", "命令名或十六进制命令字 (HELLO, SET_PROTOCOL, 0x0030 ...)")
	payloadHex := flag.String("payload", "", "十六进制负载")
	proto := flag.String("protocol", "", "SET_PROTOCOL 的协议名")
	pin := flag.String("pin", "", "SET_RX_PIN/SET_TX_PIN 的引脚，如 PIN_6")
	voltage := flag.String("voltage", "5V", "引脚电压")
	resistor := flag.String("resistor", "120ohm", "引脚电阻")
	inverted := flag.Bool("inverted", false, "引脚反相")
	file := flag.String("file", "", "生成 LOAD_BEGIN/LOAD_DATA/LOAD_END 序列的仿真文件")
	chunk := flag.Int("chunk", 512, "LOAD_DATA 分块大小")
	send := flag.String("send", "", "发送到模拟器地址，如 localhost:7700")
	flag.Parse()

	frames, err := buildFrames(*cmdName, *payloadHex, *proto, *pin, *voltage, *resistor, *inverted, *file, *chunk)
	if err != nil {
		fmt.Fprintf(os.Stderr, "生成失败: %v\n", err)
		os.Exit(1)
	}

	var packets [][]byte
	for i, f := range frames {
		packet, err := parser.Encode(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "编码失败: %v\n", err)
			os.Exit(1)
		}
		packets = append(packets, packet)

		fmt.Printf("数据包 %d:\n", i+1)
		fmt.Printf("  十六进制: %s\n", hex.EncodeToString(packet))
		fmt.Printf("  字节数组: % x\n", packet)
		fmt.Printf("  Go格式:   []byte{%s}\n", toGoArray(packet))
		display(packet)
		fmt.Println()
	}

	if *send != "" {
		sendAll(*send, packets)
	}
}

func buildFrames(cmdName, payloadHex, proto, pin, voltage, resistor string, inverted bool, file string, chunk int) ([]*protocol.Frame, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		frames := []*protocol.Frame{
			parser.Command(protocol.CmdHello, nil),
			parser.Command(protocol.CmdLoadBegin, parser.EncodeLoadBegin(uint32(len(data)), crc32.ChecksumIEEE(data))),
		}
		for off := 0; off < len(data); off += chunk {
			end := off + chunk
			if end > len(data) {
				end = len(data)
			}
			frames = append(frames, parser.Command(protocol.CmdLoadData, data[off:end]))
		}
		return append(frames, parser.Command(protocol.CmdLoadEnd, nil)), nil
	}

	cmd, err := parseCommand(cmdName)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch {
	case payloadHex != "":
		payload, err = hex.DecodeString(strings.ReplaceAll(payloadHex, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("负载格式错误: %w", err)
		}
	case cmd == protocol.CmdSetProtocol && proto != "":
		p, err := protocol.ParseProtocol(proto)
		if err != nil {
			return nil, err
		}
		payload = []byte{uint8(p)}
	case (cmd == protocol.CmdSetRxPin || cmd == protocol.CmdSetTxPin) && pin != "":
		name, err := protocol.ParsePinName(pin)
		if err != nil {
			return nil, err
		}
		profile := protocol.PinProfile{Pin: name, VoltageLevel: voltage, Inverted: inverted, Resistor: resistor}
		mv, ohms, err := profile.Electrical()
		if err != nil {
			return nil, err
		}
		payload = parser.EncodePin(parser.PinSetting{Pin: name, Inverted: inverted, Millivolts: mv, Ohms: ohms})
	}
	return []*protocol.Frame{parser.Command(cmd, payload)}, nil
}

func parseCommand(s string) (uint16, error) {
	if cmd, ok := protocol.CommandByName(s); ok {
		return cmd, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("未知命令: %s", s)
	}
	return uint16(v), nil
}

// display 解析并显示数据包内容
func display(packet []byte) {
	f, err := parser.Parse(packet)
	if err != nil {
		fmt.Printf("  错误: %v\n", err)
		return
	}
	fmt.Printf("  解析结果:\n")
	fmt.Printf("    命令:     0x%04X (%s)\n", f.Command, protocol.CommandName(f.Command))
	fmt.Printf("    类别:     %s\n", f.Category)
	fmt.Printf("    状态:     %d\n", f.Status)
	fmt.Printf("    负载长度: %d\n", len(f.Payload))
	fmt.Printf("    校验和:   0x%02X\n", packet[len(packet)-1])
}

// sendAll 逐个发送并打印设备应答
func sendAll(addr string, packets [][]byte) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer conn.Close()

	fmt.Printf("已连接到: %s\n", addr)

	decoder := parser.NewDecoder()
	buf := make([]byte, 4096)
	for i, packet := range packets {
		if _, err := conn.Write(packet); err != nil {
			log.Fatalf("发送失败: %v", err)
		}
		fmt.Printf("[%d] 发送 %d 字节\n", i+1, len(packet))

		// 读到应答为止，期间的事件一并打印
		for acked := false; !acked; {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := conn.Read(buf)
			if err != nil {
				log.Fatalf("读取应答失败: %v", err)
			}
			decoder.Feed(buf[:n])
			for {
				f, err := decoder.Next()
				if err != nil {
					continue
				}
				if f == nil {
					break
				}
				if f.IsAck() {
					fmt.Printf("    应答 %s: status=%d\n", protocol.CommandName(f.Command), f.Status)
					acked = true
				} else {
					fmt.Printf("    事件 [%s] %s\n", f.Category, f.Payload)
				}
			}
		}
	}

	fmt.Println("发送完成")
}

func toGoArray(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, ", ")
}
