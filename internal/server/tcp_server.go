package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/config"
	"obd-simulator/internal/emulator"
	"obd-simulator/internal/handler"
)

// TCPServer 模拟器设备的 TCP 服务端，每个连接对应一台模拟设备
type TCPServer struct {
	config   config.EmulatorConfig
	listener net.Listener
	log      logrus.FieldLogger
	limiter  chan struct{}
	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
	ready    chan struct{}
}

func NewTCPServer(cfg config.EmulatorConfig, log logrus.FieldLogger) *TCPServer {
	return &TCPServer{
		config:   cfg,
		log:      log,
		limiter:  make(chan struct{}, cfg.MaxConnections),
		shutdown: make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Addr 监听地址，Start 之后有效
func (s *TCPServer) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) Start() error {
	// 监听TCP端口
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		close(s.ready)
		return fmt.Errorf("监听失败: %w", err)
	}

	s.listener = listener
	close(s.ready)
	s.log.Infof("模拟器启动成功: %s (最大连接: %d)", listener.Addr(), s.config.MaxConnections)

	// 接受连接
	for {
		select {
		case <-s.shutdown:
			s.log.Info("停止接受新连接")
			return nil
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				s.log.Errorf("接受连接错误: %v", err)
				continue
			}
		}

		// 连接数限制
		select {
		case s.limiter <- struct{}{}:
			s.wg.Add(1)
			go s.handleConnection(conn)
		default:
			s.log.Warn("达到最大连接数，拒绝连接")
			conn.Close()
		}
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer func() {
		<-s.limiter
		s.wg.Done()
	}()

	name := conn.RemoteAddr().String()
	h := handler.NewConnectionHandler(
		conn,
		name,
		emulator.NewDevice(name),
		s.log,
		s.config.BufferSize,
		s.config.ReadTimeout,
		s.config.WriteTimeout,
		s.config.EventInterval,
	)

	h.Handle()
}

// WaitForSignal 收到 SIGINT/SIGTERM 后优雅关闭
func (s *TCPServer) WaitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		s.log.Infof("收到信号: %v, 开始优雅关闭...", sig)
	case <-s.shutdown:
		return
	}
	s.Shutdown(30 * time.Second)
}

// Shutdown 停止接受新连接并等待现有连接结束
func (s *TCPServer) Shutdown(timeout time.Duration) {
	s.once.Do(func() {
		close(s.shutdown)

		// 停止接受新连接
		if s.listener != nil {
			s.listener.Close()
		}

		// 等待现有连接处理完成
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.log.Info("所有连接已关闭")
		case <-time.After(timeout):
			s.log.Warn("关闭超时，强制退出")
		}
	})
}
