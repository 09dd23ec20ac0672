package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"obd-simulator/internal/config"
	"obd-simulator/internal/monitor"
	"obd-simulator/internal/notifier"
	"obd-simulator/internal/scenario"
	"obd-simulator/internal/session"
	"obd-simulator/internal/settings"
	"obd-simulator/internal/storage"
	"obd-simulator/internal/transport"
	"obd-simulator/pkg/protocol"
)

// app 一次命令执行所需的依赖
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	out      *syncWriter
	registry *transport.Registry
	store    *settings.Store
	mon      *monitor.Monitor
	mq       *storage.MessageQueue
}

// syncWriter 事件来自读取协程，输出需加锁
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Printf(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func newApp(cmd *cobra.Command) (*app, error) {
	configFile, _ := cmd.Flags().GetString("config")
	envFile, _ := cmd.Flags().GetString("env")
	logLevel, _ := cmd.Flags().GetString("log-level")

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.GetDefaultConfig()
	}
	if err := cfg.ApplyEnv(envFile); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	log := setupLogger(cfg.Log, cmd.ErrOrStderr())
	log.Debugf("配置文件: %s", configFile)

	a := &app{
		cfg:      cfg,
		log:      log,
		out:      &syncWriter{w: cmd.OutOrStdout()},
		registry: transport.NewFromConfig(cfg, log),
		store:    settings.NewStoreFromConfig(cfg),
	}

	if cfg.Monitor.Enabled {
		a.mon = monitor.NewMonitor(log)
		a.mon.StartMetricsServer(cfg.Monitor.MetricsPort)
		a.mon.StartRuntimeMonitor()
	}

	if cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(cfg.Redis, log)
		if err != nil {
			// 事件镜像不可用不影响仿真
			log.Warnf("Redis不可用，事件只输出到终端: %v", err)
		} else {
			a.mq = mq
		}
	}
	return a, nil
}

// newSession 创建会话，事件输出到终端并镜像到 Redis
func (a *app) newSession(showData bool) *session.Session {
	n := notifier.New(a.log)

	var mirror notifier.Handler
	if a.mq != nil {
		mirror = a.mq.Handler()
	}
	n.Subscribe(notifier.Tee(a.printer(showData), mirror))

	return session.New(session.Options{
		Dialer:       a.registry,
		Store:        a.store,
		Notifier:     n,
		Parser:       scenario.NewFileParser(a.cfg.Scenario.MaxSize, a.cfg.Scenario.Extensions),
		Logger:       a.log,
		AckTimeout:   a.cfg.Device.AckTimeout,
		LoadTimeout:  a.cfg.Device.LoadTimeout,
		EraseTimeout: a.cfg.Device.EraseTimeout,
		ChunkSize:    a.cfg.Device.ChunkSize,
		BufferSize:   a.cfg.Device.BufferSize,
	})
}

// printer 打印事件；showData 为假时不输出总线请求/响应
func (a *app) printer(showData bool) notifier.Handler {
	return func(msg protocol.EventMessage) {
		if !showData && (msg.Category == protocol.MsgRequest || msg.Category == protocol.MsgResponse) {
			return
		}
		a.out.Printf("%s [%s] %-8s %s\n", msg.Timestamp.Format("15:04:05.000"), msg.CommPort, msg.Category, msg.Text)
	}
}

func (a *app) close() {
	if a.mq != nil {
		if err := a.mq.Close(); err != nil {
			a.log.Warnf("关闭Redis失败: %v", err)
		}
	}
	if a.mon != nil {
		a.mon.Stop()
	}
}

// port 命令行端口优先，其次是配置
func (a *app) port(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("port"); p != "" {
		return p
	}
	return a.cfg.Device.CommPort
}
