package notifier

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/pkg/protocol"
)

func TestPublishWithoutSubscriberIsDropped(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	n := New(log)
	assert.False(t, n.Subscribed())
	n.Publish("COM1", protocol.MsgInfo, "nobody listens")
}

func TestLastSubscriberWins(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	n := New(log)

	var first, second []protocol.EventMessage
	n.Subscribe(func(m protocol.EventMessage) { first = append(first, m) })
	n.Publish("COM1", protocol.MsgInfo, "one")
	n.Subscribe(func(m protocol.EventMessage) { second = append(second, m) })
	n.Publish("COM1", protocol.MsgError, "two")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "one", first[0].Text)
	assert.Equal(t, "two", second[0].Text)
	assert.Equal(t, protocol.MsgError, second[0].Category)
	assert.Equal(t, "COM1", second[0].CommPort)
	assert.False(t, second[0].Timestamp.IsZero())

	n.Subscribe(nil)
	assert.False(t, n.Subscribed())
	n.Publish("COM1", protocol.MsgInfo, "three")
	assert.Len(t, second, 1)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	n := New(log)
	n.Subscribe(func(protocol.EventMessage) { panic("ui gone") })

	assert.NotPanics(t, func() { n.Publish("COM2", protocol.MsgStatus, "x") })
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

// 发布过程中替换订阅者：不崩溃，替换之后的事件只到达新回调
func TestReplaceWhilePublishing(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	n := New(log)

	var oldCount, newCount atomic.Int64
	n.Subscribe(func(protocol.EventMessage) { oldCount.Add(1) })

	const publishers = 4
	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					n.Publish("COM_SIM", protocol.MsgRequest, "7DF 02 01 0C")
				}
			}
		}()
	}

	for oldCount.Load() < 100 {
	}
	n.Subscribe(func(protocol.EventMessage) { newCount.Add(1) })
	atReplace := oldCount.Load()

	for newCount.Load() < 100 {
	}
	close(stop)
	wg.Wait()

	// 替换时已取到旧快照的投递最多每个发布协程一个
	assert.LessOrEqual(t, oldCount.Load()-atReplace, int64(publishers))

	before, oldFinal := newCount.Load(), oldCount.Load()
	n.Publish("COM_SIM", protocol.MsgResponse, "7E8 04 41 0C 1A F8")
	assert.Equal(t, before+1, newCount.Load())
	assert.Equal(t, oldFinal, oldCount.Load())
}

func TestTee(t *testing.T) {
	var a, b int
	h := Tee(func(protocol.EventMessage) { a++ }, nil, func(protocol.EventMessage) { b++ })
	h(protocol.EventMessage{})
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}
