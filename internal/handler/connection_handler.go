package handler

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/emulator"
	"obd-simulator/internal/parser"
	"obd-simulator/pkg/protocol"
)

// ConnectionHandler 设备侧连接处理：读取主机命令，交给模拟设备并回写应答
type ConnectionHandler struct {
	conn          net.Conn
	name          string
	device        *emulator.Device
	log           logrus.FieldLogger
	bufferSize    int
	readTimeout   time.Duration
	writeTimeout  time.Duration
	eventInterval time.Duration

	writeMu sync.Mutex
}

func NewConnectionHandler(
	conn net.Conn,
	name string,
	device *emulator.Device,
	log logrus.FieldLogger,
	bufferSize int,
	readTimeout time.Duration,
	writeTimeout time.Duration,
	eventInterval time.Duration,
) *ConnectionHandler {
	if bufferSize <= 0 {
		bufferSize = 4096
	}

	return &ConnectionHandler{
		conn:          conn,
		name:          name,
		device:        device,
		log:           log.WithField("device", name),
		bufferSize:    bufferSize,
		readTimeout:   readTimeout,
		writeTimeout:  writeTimeout,
		eventInterval: eventInterval,
	}
}

// Handle 处理连接，直到对端关闭
func (h *ConnectionHandler) Handle() {
	done := make(chan struct{})
	defer func() {
		close(done)
		h.conn.Close()
		h.log.Infof("连接关闭: %s", h.name)
	}()

	h.log.Infof("新连接: %s", h.name)

	if h.eventInterval > 0 {
		go h.tickLoop(done)
	}

	buffer := make([]byte, h.bufferSize)
	decoder := parser.NewDecoder()

	for {
		// 设置读取超时
		if h.readTimeout > 0 {
			h.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		}

		n, err := h.conn.Read(buffer)
		if n > 0 {
			decoder.Feed(buffer[:n])
			if !h.processData(decoder) {
				return
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				h.log.Debugf("读取超时: %s", h.name)
				continue
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, net.ErrClosed) {
				h.log.Debugf("连接断开: %s, 错误: %v", h.name, err)
			}
			return
		}
	}
}

// processData 处理缓冲区中的完整帧，写失败时返回 false
func (h *ConnectionHandler) processData(decoder *parser.Decoder) bool {
	for {
		frame, err := decoder.Next()
		if err != nil {
			h.log.Warnf("解析失败 [%s]: %v", h.name, err)
			continue
		}
		if frame == nil {
			return true
		}

		h.log.Debugf("收到命令 [%s]: %s", h.name, protocol.CommandName(frame.Command))

		if err := h.send(h.device.Handle(frame)...); err != nil {
			h.log.Debugf("发送应答失败 [%s]: %v", h.name, err)
			return false
		}
	}
}

// tickLoop 仿真运行时周期上报事件
func (h *ConnectionHandler) tickLoop(done <-chan struct{}) {
	ticker := time.NewTicker(h.eventInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := h.send(h.device.Tick()...); err != nil {
				return
			}
		}
	}
}

// send 发送帧
func (h *ConnectionHandler) send(frames ...*protocol.Frame) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	for _, f := range frames {
		data, err := parser.Encode(f)
		if err != nil {
			return err
		}
		if h.writeTimeout > 0 {
			h.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if _, err := h.conn.Write(data); err != nil {
			return err
		}
	}
	return nil
}
