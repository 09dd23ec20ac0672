// Package transport binds a session to a comm port. Serial ports, TCP
// endpoints (tcp://host:port) and in-process simulated devices share one
// narrow interface, and a Registry keeps each comm port bound to at most one
// session.
package transport

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"obd-simulator/pkg/protocol"
)

// TCPScheme TCP 端口名前缀
const TCPScheme = "tcp://"

// Port 已绑定的链路
type Port interface {
	io.ReadWriteCloser
	Name() string
}

// WriteDeadliner 支持写超时的链路
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// SetWriteDeadline 链路支持时设置写超时
func SetWriteDeadline(p Port, t time.Time) {
	if d, ok := p.(WriteDeadliner); ok {
		d.SetWriteDeadline(t)
	}
}

// Dialer 按端口名建立链路
type Dialer interface {
	Dial(ctx context.Context, name string) (Port, error)
}

// DialerFunc 函数适配 Dialer
type DialerFunc func(ctx context.Context, name string) (Port, error)

func (f DialerFunc) Dial(ctx context.Context, name string) (Port, error) {
	return f(ctx, name)
}

// Router 按端口名选择具体链路
type Router struct {
	Serial    Dialer
	TCP       Dialer
	Simulated Dialer
	simNames  map[string]struct{}
}

// NewRouter 创建路由，simulatedPorts 中的名称使用进程内模拟设备
func NewRouter(serial, tcp, simulated Dialer, simulatedPorts []string) *Router {
	names := make(map[string]struct{}, len(simulatedPorts))
	for _, n := range simulatedPorts {
		names[strings.ToUpper(n)] = struct{}{}
	}
	return &Router{Serial: serial, TCP: tcp, Simulated: simulated, simNames: names}
}

func (r *Router) Dial(ctx context.Context, name string) (Port, error) {
	var d Dialer
	switch {
	case strings.HasPrefix(strings.ToLower(name), TCPScheme):
		d = r.TCP
	case r.isSimulated(name):
		d = r.Simulated
	default:
		d = r.Serial
	}
	if d == nil {
		return nil, protocol.Errorf(protocol.KindTransportUnavailable, "bind", "端口类型不可用: %s", name)
	}
	return d.Dial(ctx, name)
}

func (r *Router) isSimulated(name string) bool {
	_, ok := r.simNames[strings.ToUpper(name)]
	return ok
}

// Registry 保证同一端口同时只被一个会话绑定
type Registry struct {
	dialer Dialer
	mu     sync.Mutex
	held   map[string]struct{}
}

// NewRegistry 包装底层 Dialer
func NewRegistry(dialer Dialer) *Registry {
	return &Registry{dialer: dialer, held: make(map[string]struct{})}
}

// Dial 绑定端口；端口已被占用时返回 TransportUnavailable
func (r *Registry) Dial(ctx context.Context, name string) (Port, error) {
	const op = "bind"

	if name == "" {
		return nil, protocol.Errorf(protocol.KindInvalidArgument, op, "端口名为空")
	}

	key := strings.ToUpper(name)

	r.mu.Lock()
	if _, busy := r.held[key]; busy {
		r.mu.Unlock()
		return nil, protocol.Errorf(protocol.KindTransportUnavailable, op, "端口 %s 已被占用", name)
	}
	r.held[key] = struct{}{}
	r.mu.Unlock()

	p, err := r.dialer.Dial(ctx, name)
	if err != nil {
		r.release(key)
		if protocol.KindOf(err) != protocol.KindUnknown {
			return nil, err
		}
		return nil, protocol.NewError(protocol.KindTransportUnavailable, op, err)
	}

	return &registeredPort{Port: p, release: func() { r.release(key) }}, nil
}

// Bound 端口当前是否被绑定
func (r *Registry) Bound(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.held[strings.ToUpper(name)]
	return ok
}

func (r *Registry) release(key string) {
	r.mu.Lock()
	delete(r.held, key)
	r.mu.Unlock()
}

// registeredPort 关闭时释放登记
type registeredPort struct {
	Port
	once    sync.Once
	release func()
}

func (p *registeredPort) SetWriteDeadline(t time.Time) error {
	SetWriteDeadline(p.Port, t)
	return nil
}

func (p *registeredPort) Close() error {
	err := p.Port.Close()
	p.once.Do(p.release)
	return err
}
