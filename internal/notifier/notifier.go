// Package notifier delivers session events to a single subscriber and drops
// them when nobody is listening.
package notifier

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"obd-simulator/internal/monitor"
	"obd-simulator/pkg/protocol"
)

// Handler 事件回调，在读取协程上同步调用，不应长时间阻塞
type Handler func(msg protocol.EventMessage)

// Notifier 单订阅者事件通道，后注册的回调替换之前的回调
type Notifier struct {
	handler atomic.Pointer[Handler]
	log     logrus.FieldLogger
}

// New 创建通知器
func New(log logrus.FieldLogger) *Notifier {
	return &Notifier{log: log}
}

// Subscribe 注册回调，nil 表示取消订阅
func (n *Notifier) Subscribe(h Handler) {
	if h == nil {
		n.handler.Store(nil)
		return
	}
	n.handler.Store(&h)
}

// Subscribed 是否有订阅者
func (n *Notifier) Subscribed() bool {
	return n.handler.Load() != nil
}

// Publish 投递事件；无订阅者时丢弃
func (n *Notifier) Publish(commPort string, category protocol.MsgType, text string) {
	n.Deliver(protocol.EventMessage{
		CommPort:  commPort,
		Category:  category,
		Text:      text,
		Timestamp: time.Now(),
	})
}

// Deliver 投递完整事件
func (n *Notifier) Deliver(msg protocol.EventMessage) {
	// 取一次快照，替换回调不影响正在投递的事件
	h := n.handler.Load()
	if h == nil {
		monitor.EventsDropped.Inc()
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			monitor.EventsDropped.Inc()
			n.log.Errorf("事件回调异常 [%s]: %v", msg.CommPort, r)
		}
	}()

	(*h)(msg)
	monitor.EventsPublished.WithLabelValues(msg.Category.String()).Inc()
}

// Tee 把一个事件依次交给多个回调
func Tee(handlers ...Handler) Handler {
	return func(msg protocol.EventMessage) {
		for _, h := range handlers {
			if h != nil {
				h(msg)
			}
		}
	}
}
