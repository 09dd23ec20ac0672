package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "simulator",
		Short: "OBD 总线模拟器控制工具",
		Long: `simulator 通过串口、TCP 或进程内模拟端口控制总线模拟器：
连接设备、下发协议与引脚配置、加载仿真文件并启动/停止仿真。`,
		Version:       fmt.Sprintf("%s (Build: %s)", Version, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// 全局参数
	rootCmd.PersistentFlags().String("config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().String("env", ".env", "环境变量文件")
	rootCmd.PersistentFlags().String("log-level", "", "日志级别，覆盖配置文件")
	rootCmd.PersistentFlags().Bool("json", false, "以 JSON 输出")

	rootCmd.AddCommand(
		newRunCmd(),
		newBatchCmd(),
		newEraseCmd(),
		newProtocolsCmd(),
		newPortsCmd(),
	)
	return rootCmd
}
