package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"obd-simulator/internal/transport"
	"obd-simulator/pkg/protocol"
)

type protocolInfo struct {
	Name         string   `json:"name"`
	ReceivePins  []string `json:"receive_pins"`
	TransmitPins []string `json:"transmit_pins"`
}

func newProtocolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "protocols",
		Short: "列出支持的协议及可用引脚",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			var list []protocolInfo
			for _, p := range protocol.ProtocolList() {
				list = append(list, protocolInfo{
					Name:         p.String(),
					ReceivePins:  pinNames(protocol.ReceivePinCatalog(p)),
					TransmitPins: pinNames(protocol.TransmitPinCatalog(p)),
				})
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(list)
			}
			for _, info := range list {
				fmt.Fprintf(out, "%-10s rx: %v\n", info.Name, info.ReceivePins)
				fmt.Fprintf(out, "%-10s tx: %v\n", "", info.TransmitPins)
			}
			return nil
		},
	}
}

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "列出可用端口",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			serialPorts, err := transport.ListSerialPorts()
			if err != nil {
				a.log.Warnf("枚举串口失败: %v", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string][]string{
					"serial":    serialPorts,
					"simulated": a.cfg.Device.SimulatedPorts,
				})
			}
			for _, p := range serialPorts {
				fmt.Fprintf(out, "%-16s serial\n", p)
			}
			for _, p := range a.cfg.Device.SimulatedPorts {
				fmt.Fprintf(out, "%-16s simulated\n", p)
			}
			return nil
		},
	}
}

// pinNames 按引脚编号排序
func pinNames(catalog map[string]protocol.PinName) []string {
	pins := make([]protocol.PinName, 0, len(catalog))
	for _, p := range catalog {
		pins = append(pins, p)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i] < pins[j] })

	names := make([]string, len(pins))
	for i, p := range pins {
		names[i] = p.String()
	}
	return names
}
