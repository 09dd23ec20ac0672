package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"obd-simulator/internal/scenario"
	"obd-simulator/internal/session"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "加载仿真文件并运行",
		Long: `连接设备，加载仿真文件，启动仿真直到 --duration 到期或收到中断信号，
然后停止设备并断开连接。`,
		Example: `  simulator run --port COM_SIM --file scenarios/idle.sim --show-data
  simulator run --port /dev/ttyUSB0 --file idle.sim --protocol KWP2000 --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			protocolName, _ := cmd.Flags().GetString("protocol")
			noApply, _ := cmd.Flags().GetBool("no-apply")
			showData, _ := cmd.Flags().GetBool("show-data")
			duration, _ := cmd.Flags().GetDuration("duration")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if protocolName != "" {
				if err := a.store.SetActiveProtocolName(protocolName); err != nil {
					return err
				}
			}

			ctx, stop := signalContext()
			defer stop()

			s := a.newSession(showData)
			defer s.Close()

			if err := s.OpenConnection(ctx, a.port(cmd)); err != nil {
				return err
			}
			return runScenario(ctx, s, file, !noApply, duration)
		},
	}

	cmd.Flags().StringP("port", "p", "", "端口名，如 COM3、/dev/ttyUSB0、tcp://host:7700 或 COM_SIM")
	cmd.Flags().StringP("file", "f", "", "仿真文件路径")
	cmd.Flags().String("protocol", "", "覆盖配置中的协议")
	cmd.Flags().Bool("no-apply", false, "加载后不下发协议与引脚配置")
	cmd.Flags().Bool("show-data", false, "输出总线请求/响应")
	cmd.Flags().Duration("duration", 0, "运行时长，0 表示直到中断")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "依次运行目录中的全部仿真文件",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			showData, _ := cmd.Flags().GetBool("show-data")
			duration, _ := cmd.Flags().GetDuration("duration")

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if dir == "" {
				dir = a.cfg.Scenario.Dir
			}
			files, err := scenario.Scan(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("目录中没有仿真文件: %s", dir)
			}

			ctx, stop := signalContext()
			defer stop()

			s := a.newSession(showData)
			defer s.Close()

			if err := s.OpenConnection(ctx, a.port(cmd)); err != nil {
				return err
			}

			var failed int
			for i, f := range files {
				if ctx.Err() != nil {
					break
				}
				a.out.Printf("==> [%d/%d] %s\n", i+1, len(files), f)
				if err := runScenario(ctx, s, f, a.cfg.Simulator.ApplySettings, duration); err != nil {
					failed++
					a.log.Errorf("运行失败 %s: %v", f, err)
					if !s.IsConnected() {
						return err
					}
				}
			}

			a.out.Printf("完成: %d 个文件, %d 个失败\n", len(files), failed)
			if failed > 0 {
				return fmt.Errorf("%d 个仿真文件运行失败", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringP("port", "p", "", "端口名")
	cmd.Flags().StringP("dir", "d", "", "仿真文件目录，默认使用配置中的 scenario.dir")
	cmd.Flags().Bool("show-data", false, "输出总线请求/响应")
	cmd.Flags().Duration("duration", 10*time.Second, "每个文件的运行时长")
	return cmd
}

func newEraseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "擦除主固件并进入 bootloader",
		Long:  `擦除后设备只响应升级工具，需要重新烧录固件才能继续仿真。`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			s := a.newSession(false)
			defer s.Close()

			if err := s.OpenConnection(ctx, a.port(cmd)); err != nil {
				return err
			}
			if err := s.EraseFirmware(ctx); err != nil {
				return err
			}
			a.out.Printf("固件已擦除，端口 %s 已释放\n", a.port(cmd))
			return nil
		},
	}

	cmd.Flags().StringP("port", "p", "", "端口名")
	return cmd
}

// runScenario 加载、启动、等待、停止
func runScenario(ctx context.Context, s *session.Session, file string, apply bool, duration time.Duration) error {
	if err := s.LoadScenario(ctx, file, apply); err != nil {
		return err
	}
	if err := s.StartDevice(ctx); err != nil {
		return err
	}

	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
	} else {
		<-ctx.Done()
	}

	return s.StopDevice(context.Background())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
