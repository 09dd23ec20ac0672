package monitor

import (
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// 会话指标
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_active_sessions",
		Help: "当前已连接的会话数",
	})

	StartedDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_started_devices",
		Help: "当前正在仿真的设备数",
	})

	// 控制操作指标
	ControlOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_control_ops_total",
			Help: "控制操作次数",
		},
		[]string{"op", "result"},
	)

	ControlOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "simulator_control_op_duration_seconds",
			Help:    "控制操作耗时",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// 事件指标
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "simulator_events_published_total",
			Help: "发布的事件数",
		},
		[]string{"category"},
	)

	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_events_dropped_total",
		Help: "无订阅者或订阅者异常而丢弃的事件数",
	})

	// 链路指标
	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_bytes_received_total",
		Help: "接收的字节总数",
	})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_bytes_sent_total",
		Help: "发送的字节总数",
	})

	FrameErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "simulator_frame_errors_total",
		Help: "帧解析错误数",
	})

	// Goroutine指标
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_goroutines",
		Help: "当前Goroutine数量",
	})

	// 内存指标
	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulator_memory_usage_bytes",
		Help: "内存使用量",
	})
)

var registerOnce sync.Once

// Register 注册指标，可重复调用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActiveSessions,
			StartedDevices,
			ControlOps,
			ControlOpDuration,
			EventsPublished,
			EventsDropped,
			BytesReceived,
			BytesSent,
			FrameErrors,
			GoroutineCount,
			MemoryUsage,
		)
	})
}

// ObserveOp 记录一次控制操作
func ObserveOp(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ControlOps.WithLabelValues(op, result).Inc()
	ControlOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

type Monitor struct {
	log    logrus.FieldLogger
	server *http.Server
	stop   chan struct{}
}

func NewMonitor(log logrus.FieldLogger) *Monitor {
	Register()
	return &Monitor{log: log, stop: make(chan struct{})}
}

// StartMetricsServer 启动Metrics HTTP服务器
func (m *Monitor) StartMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	m.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.log.Infof("Metrics服务器启动: %s", addr)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("Metrics服务器错误: %v", err)
		}
	}()
}

// StartRuntimeMonitor 启动运行时监控
func (m *Monitor) StartRuntimeMonitor() {
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
			}

			// 更新Goroutine数量
			GoroutineCount.Set(float64(runtime.NumGoroutine()))

			// 更新内存使用
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			MemoryUsage.Set(float64(memStats.Alloc))

			m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
				runtime.NumGoroutine(),
				float64(memStats.Alloc)/1024/1024,
			)
		}
	}()
}

// Stop 停止监控
func (m *Monitor) Stop() {
	select {
	case <-m.stop:
		return
	default:
		close(m.stop)
	}
	if m.server != nil {
		m.server.Close()
	}
}
