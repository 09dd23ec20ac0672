package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/monitor"
	"obd-simulator/internal/parser"
	"obd-simulator/internal/transport"
	"obd-simulator/pkg/protocol"
)

// worker 链路读取协程
type worker struct {
	acks     chan *protocol.Frame
	done     chan struct{}
	stopping atomic.Bool
	err      error
}

func (s *Session) startWorker(port transport.Port) *worker {
	w := &worker{
		acks: make(chan *protocol.Frame, 4),
		done: make(chan struct{}),
	}
	go s.readLoop(w, port)
	return w
}

// readLoop 读取设备数据，应答交给等待中的控制操作，事件交给通知器
func (s *Session) readLoop(w *worker, port transport.Port) {
	defer close(w.done)

	buffer := make([]byte, s.opts.BufferSize)
	decoder := parser.NewDecoder()

	for {
		n, err := port.Read(buffer)
		if n > 0 {
			monitor.BytesReceived.Add(float64(n))
			decoder.Feed(buffer[:n])
			s.dispatch(w, decoder)
		}
		if err != nil {
			if w.stopping.Load() {
				return
			}
			w.err = err
			s.lost.Store(true)
			s.log.Errorf("链路断开 [%s]: %v", port.Name(), err)
			s.publish(protocol.MsgError, "connection lost: "+err.Error())
			return
		}
	}
}

func (s *Session) dispatch(w *worker, decoder *parser.Decoder) {
	for {
		frame, err := decoder.Next()
		if err != nil {
			monitor.FrameErrors.Inc()
			s.log.Debugf("丢弃无效帧: %v", err)
			continue
		}
		if frame == nil {
			return
		}

		switch {
		case frame.IsAck():
			select {
			case w.acks <- frame:
			default:
				s.log.Warnf("应答未被处理: %s", protocol.CommandName(frame.Command))
			}
		case frame.Command == protocol.CmdEvent:
			if w.stopping.Load() {
				continue
			}
			s.publish(frame.Category, string(frame.Payload))
		default:
			s.log.Debugf("未知帧: 0x%04X", frame.Command)
		}
	}
}

// stop 关闭链路并等待读取协程退出
func (w *worker) stop(port transport.Port, wait time.Duration, log logrus.FieldLogger) {
	w.stopping.Store(true)
	if err := port.Close(); err != nil {
		log.Warnf("关闭端口失败 [%s]: %v", port.Name(), err)
	}

	select {
	case <-w.done:
	case <-time.After(wait):
		log.Warnf("读取协程未在 %v 内退出 [%s]", wait, port.Name())
	}
}

// expectOK 发送命令并要求设备返回 StatusOK；设备拒绝时返回 nackKind 类别的错误
func (s *Session) expectOK(ctx context.Context, op string, cmd uint16, payload []byte, timeout time.Duration, nackKind protocol.Kind) error {
	ack, err := s.transact(ctx, op, cmd, payload, timeout)
	if err != nil {
		return err
	}
	if ack.Status != protocol.StatusOK {
		return protocol.Errorf(nackKind, op, "设备拒绝 %s: %s", protocol.CommandName(cmd), statusText(ack.Status))
	}
	return nil
}

// transact 发送命令并等待对应应答，超时视为失败
func (s *Session) transact(ctx context.Context, op string, cmd uint16, payload []byte, timeout time.Duration) (*protocol.Frame, error) {
	w := s.worker
	if s.port == nil || w == nil {
		return nil, protocol.Errorf(protocol.KindInvalidState, op, "未连接")
	}

	// 丢弃过期应答
	for drained := false; !drained; {
		select {
		case <-w.acks:
		default:
			drained = true
		}
	}

	data, err := parser.Encode(parser.Command(cmd, payload))
	if err != nil {
		return nil, protocol.NewError(protocol.KindInvalidArgument, op, err)
	}
	transport.SetWriteDeadline(s.port, time.Now().Add(timeout))
	if _, err := s.port.Write(data); err != nil {
		return nil, protocol.NewError(protocol.KindTransportUnavailable, op, fmt.Errorf("发送 %s 失败: %w", protocol.CommandName(cmd), err))
	}
	monitor.BytesSent.Add(float64(len(data)))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-w.acks:
			if ack.AckOf() != cmd {
				s.log.Debugf("忽略不匹配的应答: %s", protocol.CommandName(ack.Command))
				continue
			}
			return ack, nil
		case <-w.done:
			cause := w.err
			if cause == nil {
				cause = errors.New("链路已关闭")
			}
			return nil, protocol.NewError(protocol.KindTransportUnavailable, op, cause)
		case <-timer.C:
			return nil, protocol.Errorf(protocol.KindTransportUnavailable, op, "等待 %s 应答超时 (%v)", protocol.CommandName(cmd), timeout)
		case <-ctx.Done():
			return nil, protocol.NewError(protocol.KindTransportUnavailable, op, ctx.Err())
		}
	}
}

func statusText(status uint8) string {
	switch status {
	case protocol.StatusOK:
		return "ok"
	case protocol.StatusRejected:
		return "rejected"
	case protocol.StatusBadState:
		return "bad state"
	case protocol.StatusBadChecksum:
		return "bad checksum"
	default:
		return fmt.Sprintf("status 0x%02X", status)
	}
}
