package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/notifier"
	"obd-simulator/internal/session"
	"obd-simulator/internal/settings"
	"obd-simulator/internal/transport"
	"obd-simulator/pkg/protocol"
)

// Stats 统计指标
type Stats struct {
	Cycles    int64 // 完成的运行周期
	Failed    int64 // 失败次数
	Active    int64 // 活跃会话数
	Events    int64 // 收到的事件数
	latencyMu sync.Mutex
	latencies []time.Duration
}

func (s *Stats) observe(d time.Duration) {
	s.latencyMu.Lock()
	s.latencies = append(s.latencies, d)
	s.latencyMu.Unlock()
}

// percentile 运行周期耗时分位数
func (s *Stats) percentile(p float64) time.Duration {
	s.latencyMu.Lock()
	defer s.latencyMu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), s.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*p)]
}

// Worker 一个并发会话，循环执行 连接、加载、启动、停止、断开
type Worker struct {
	ID       int
	Port     string
	Scenario string
	Hold     time.Duration
	Dialer   transport.Dialer
	Stats    *Stats
	Log      *logrus.Logger
}

func (w *Worker) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	store := settings.NewStore()
	store.SetActiveProtocol(protocol.ProtocolCAN)
	store.SetReceivePinProfile(protocol.Pin6, "5V", false, "120ohm")
	store.SetTransmitPinProfile(protocol.Pin14, "5V", false, "120ohm")

	n := notifier.New(w.Log)
	n.Subscribe(func(msg protocol.EventMessage) {
		atomic.AddInt64(&w.Stats.Events, 1)
	})

	s := session.New(session.Options{Dialer: w.Dialer, Store: store, Notifier: n, Logger: w.Log})
	defer s.Close()

	for ctx.Err() == nil {
		start := time.Now()
		if err := w.cycle(ctx, s); err != nil {
			w.Log.Debugf("会话 %d 失败: %v", w.ID, err)
			atomic.AddInt64(&w.Stats.Failed, 1)
			s.CloseConnection()
			continue
		}
		atomic.AddInt64(&w.Stats.Cycles, 1)
		w.Stats.observe(time.Since(start))
	}
}

func (w *Worker) cycle(ctx context.Context, s *session.Session) error {
	if err := s.OpenConnection(ctx, w.Port); err != nil {
		// 避免连接失败时空转
		time.Sleep(100 * time.Millisecond)
		return err
	}
	atomic.AddInt64(&w.Stats.Active, 1)
	defer atomic.AddInt64(&w.Stats.Active, -1)
	defer s.CloseConnection()

	if err := s.LoadScenario(ctx, w.Scenario, true); err != nil {
		return err
	}
	if err := s.StartDevice(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(w.Hold):
	case <-ctx.Done():
	}
	return s.StopDevice(context.Background())
}

// writeScenario 生成测试用仿真文件
func writeScenario(dir string, lines int) (string, error) {
	path := filepath.Join(dir, "stress.sim")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	for i := 0; i < lines; i++ {
		fmt.Fprintf(f, "7DF 02 01 %02X -> 7E8 06 41 %02X 00 00 00 00\n", i%256, i%256)
	}
	return path, nil
}

func main() {
	// 命令行参数
	target := flag.String("target", "tcp://localhost:7700", "模拟器地址")
	sessions := flag.Int("sessions", 50, "并发会话数")
	hold := flag.Duration("hold", 200*time.Millisecond, "每次启动后的运行时长")
	duration := flag.Duration("duration", 30*time.Second, "测试时长")
	lines := flag.Int("lines", 200, "仿真文件行数")
	debug := flag.Bool("debug", false, "调试模式")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}

	dir, err := os.MkdirTemp("", "simulator-stress")
	if err != nil {
		log.Fatalf("创建临时目录失败: %v", err)
	}
	defer os.RemoveAll(dir)
	scenarioPath, err := writeScenario(dir, *lines)
	if err != nil {
		log.Fatalf("生成仿真文件失败: %v", err)
	}

	log.Infof("========================================")
	log.Infof("压力测试开始")
	log.Infof("目标地址:   %s", *target)
	log.Infof("并发会话:   %d", *sessions)
	log.Infof("运行时长:   %v / 次", *hold)
	log.Infof("测试时长:   %v", *duration)
	log.Infof("========================================")

	// 每个 TCP 连接对应模拟器上一台独立设备，不经过端口登记
	dialer := &transport.TCPDialer{Timeout: 5 * time.Second}
	quiet := logrus.New()
	quiet.SetLevel(logrus.WarnLevel)
	if *debug {
		quiet = log
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	stats := &Stats{}
	var wg sync.WaitGroup
	for i := 0; i < *sessions; i++ {
		w := &Worker{ID: i + 1, Port: *target, Scenario: scenarioPath, Hold: *hold, Dialer: dialer, Stats: stats, Log: quiet}
		wg.Add(1)
		go w.Run(ctx, &wg)
	}

	go monitorStats(ctx, stats, log)
	wg.Wait()

	log.Infof("========================================")
	log.Infof("压力测试完成")
	log.Infof("完成周期:   %d", atomic.LoadInt64(&stats.Cycles))
	log.Infof("失败次数:   %d", atomic.LoadInt64(&stats.Failed))
	log.Infof("事件总数:   %d", atomic.LoadInt64(&stats.Events))
	log.Infof("周期耗时:   p50=%v p95=%v p99=%v", stats.percentile(0.5), stats.percentile(0.95), stats.percentile(0.99))
	log.Infof("========================================")
}

// monitorStats 定期输出统计信息
func monitorStats(ctx context.Context, stats *Stats, log *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastCycles := int64(0)
	lastTime := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cycles := atomic.LoadInt64(&stats.Cycles)
			rate := float64(cycles-lastCycles) / now.Sub(lastTime).Seconds()
			log.Infof("活跃会话: %d | 完成: %d | 失败: %d | 事件: %d | 周期/秒: %.1f",
				atomic.LoadInt64(&stats.Active), cycles, atomic.LoadInt64(&stats.Failed),
				atomic.LoadInt64(&stats.Events), rate)
			lastCycles = cycles
			lastTime = now
		}
	}
}
