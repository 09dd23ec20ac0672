// Package storage mirrors session events to Redis so external consoles can
// follow a simulator run.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"obd-simulator/internal/config"
	"obd-simulator/internal/monitor"
	"obd-simulator/internal/notifier"
	"obd-simulator/pkg/protocol"
)

// HistoryLen 每个端口保留的事件条数
const HistoryLen = 1000

// ListKey 端口事件历史的 List 键
func ListKey(commPort string) string {
	return fmt.Sprintf("simulator:%s:events", commPort)
}

// Encode 事件序列化
func Encode(msg protocol.EventMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return data, nil
}

type MessageQueue struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger

	mu        sync.RWMutex
	closed    bool
	queue     chan protocol.EventMessage
	batchSize int
	wg        sync.WaitGroup
}

func NewMessageQueue(cfg config.RedisConfig, log logrus.FieldLogger) (*MessageQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}

	log.Infof("Redis连接成功: %s", cfg.Addr)
	return newQueue(client, cfg, log), nil
}

func newQueue(client *redis.Client, cfg config.RedisConfig, log logrus.FieldLogger) *MessageQueue {
	queueLen := cfg.QueueLen
	if queueLen <= 0 {
		queueLen = 256
	}
	mq := &MessageQueue{
		client:    client,
		channel:   cfg.Channel,
		log:       log,
		queue:     make(chan protocol.EventMessage, queueLen),
		batchSize: 32,
	}
	mq.wg.Add(1)
	go mq.run()
	return mq
}

// Handler 供通知器使用的回调
func (mq *MessageQueue) Handler() notifier.Handler {
	return mq.Enqueue
}

// Enqueue 非阻塞入队，队列满时丢弃
func (mq *MessageQueue) Enqueue(msg protocol.EventMessage) {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	if mq.closed {
		return
	}
	select {
	case mq.queue <- msg:
	default:
		monitor.EventsDropped.Inc()
		mq.log.Warnf("Redis队列已满，丢弃事件: %s", msg.Text)
	}
}

// run 后台批量发送
func (mq *MessageQueue) run() {
	defer mq.wg.Done()

	batch := make([]protocol.EventMessage, 0, mq.batchSize)
	for msg := range mq.queue {
		batch = append(batch, msg)
	drain:
		for len(batch) < mq.batchSize {
			select {
			case m, ok := <-mq.queue:
				if !ok {
					break drain
				}
				batch = append(batch, m)
			default:
				break drain
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := mq.PublishBatch(ctx, batch); err != nil {
			mq.log.Errorf("批量发布失败: %v", err)
		}
		cancel()
		batch = batch[:0]
	}
}

// Publish 发布事件到Redis
func (mq *MessageQueue) Publish(ctx context.Context, msg protocol.EventMessage) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	// 发布到Redis Pub/Sub
	if err := mq.client.Publish(ctx, mq.channel, data).Err(); err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}

	// 同时保存到Redis List（保留最近的事件）
	listKey := ListKey(msg.CommPort)
	if err := mq.client.LPush(ctx, listKey, data).Err(); err != nil {
		mq.log.Warnf("保存到List失败: %v", err)
		return nil
	}
	mq.client.LTrim(ctx, listKey, 0, HistoryLen-1)
	return nil
}

// PublishBatch 批量发布
func (mq *MessageQueue) PublishBatch(ctx context.Context, msgs []protocol.EventMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	pipe := mq.client.Pipeline()

	for _, msg := range msgs {
		data, err := Encode(msg)
		if err != nil {
			mq.log.Errorf("%v", err)
			continue
		}
		listKey := ListKey(msg.CommPort)
		pipe.Publish(ctx, mq.channel, data)
		pipe.LPush(ctx, listKey, data)
		pipe.LTrim(ctx, listKey, 0, HistoryLen-1)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// History 读取端口最近的事件，最新的在前
func (mq *MessageQueue) History(ctx context.Context, commPort string, n int64) ([]protocol.EventMessage, error) {
	raw, err := mq.client.LRange(ctx, ListKey(commPort), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]protocol.EventMessage, 0, len(raw))
	for _, r := range raw {
		var msg protocol.EventMessage
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			mq.log.Debugf("跳过无法解析的事件: %v", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Close 发送剩余事件后关闭连接
func (mq *MessageQueue) Close() error {
	mq.mu.Lock()
	if mq.closed {
		mq.mu.Unlock()
		return nil
	}
	mq.closed = true
	close(mq.queue)
	mq.mu.Unlock()

	mq.wg.Wait()
	st := mq.Stats()
	mq.log.Debugf("事件镜像已关闭: 积压 %d, 连接 %d, 命中 %d, 未命中 %d, 超时 %d",
		st.Queued, st.Conns, st.Hits, st.Misses, st.Timeouts)
	return mq.client.Close()
}

// Stats 队列积压与连接池统计
type Stats struct {
	Queued   int
	Hits     uint32
	Misses   uint32
	Timeouts uint32
	Conns    uint32
}

// Stats 获取统计信息
func (mq *MessageQueue) Stats() Stats {
	pool := mq.client.PoolStats()
	return Stats{
		Queued:   len(mq.queue),
		Hits:     pool.Hits,
		Misses:   pool.Misses,
		Timeouts: pool.Timeouts,
		Conns:    pool.TotalConns,
	}
}
