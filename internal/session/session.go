// Package session implements the simulator device session: the connection
// and lifecycle state machine a caller drives to load and run scenarios.
//
// Control operations are serialized per session and block until the device
// answers or a timeout expires. A dedicated reader goroutine decodes device
// frames for the lifetime of the connection, forwarding acknowledgements to
// the waiting control operation and asynchronous events to the Notifier.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"obd-simulator/internal/monitor"
	"obd-simulator/internal/notifier"
	"obd-simulator/internal/parser"
	"obd-simulator/internal/scenario"
	"obd-simulator/internal/settings"
	"obd-simulator/internal/transport"
	"obd-simulator/pkg/protocol"
)

// State 会话状态
type State int32

const (
	Disconnected State = iota
	Connected
	Started
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Started:
		return "started"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// 默认参数
const (
	DefaultAckTimeout   = 2 * time.Second
	DefaultLoadTimeout  = 5 * time.Second
	DefaultEraseTimeout = 10 * time.Second
	DefaultChunkSize    = 512
	DefaultBufferSize   = 4096
	goodbyeTimeout      = 500 * time.Millisecond
)

// Options 会话依赖与参数
type Options struct {
	Dialer   transport.Dialer
	Store    *settings.Store
	Notifier *notifier.Notifier
	Parser   scenario.Parser
	Logger   logrus.FieldLogger

	AckTimeout   time.Duration
	LoadTimeout  time.Duration
	EraseTimeout time.Duration
	ChunkSize    int
	BufferSize   int
}

// Session 与一台模拟器设备的会话
type Session struct {
	id   string
	opts Options
	log  logrus.FieldLogger

	// 串行化控制操作
	opMu   sync.Mutex
	port   transport.Port
	worker *worker

	// 查询接口读取，不加锁
	state    atomic.Int32
	lost     atomic.Bool
	closed   atomic.Bool
	erased   atomic.Bool
	commPort atomic.Pointer[string]
	scenario atomic.Pointer[scenario.File]
	active   atomic.Pointer[settings.Snapshot]
}

// New 创建会话，未提供的依赖使用默认实现
func New(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Store == nil {
		opts.Store = settings.NewStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = notifier.New(opts.Logger)
	}
	if opts.Parser == nil {
		opts.Parser = scenario.NewFileParser(0, nil)
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	if opts.EraseTimeout <= 0 {
		opts.EraseTimeout = DefaultEraseTimeout
	}
	if opts.ChunkSize <= 0 || opts.ChunkSize > protocol.MaxPayloadSize {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}

	id := uuid.New().String()
	return &Session{
		id:   id,
		opts: opts,
		log:  opts.Logger.WithField("session", id[:8]),
	}
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// Store 会话使用的配置存储
func (s *Session) Store() *settings.Store { return s.opts.Store }

// Notifier 会话使用的事件通知器
func (s *Session) Notifier() *notifier.Notifier { return s.opts.Notifier }

// IsConnected 链路是否可用
func (s *Session) IsConnected() bool {
	return State(s.state.Load()) != Disconnected && !s.lost.Load()
}

// IsStarted 设备是否正在仿真
func (s *Session) IsStarted() bool {
	return State(s.state.Load()) == Started && !s.lost.Load()
}

// State 对外可见的状态，链路断开时为 Disconnected
func (s *Session) State() State {
	if s.lost.Load() {
		return Disconnected
	}
	return State(s.state.Load())
}

// CommPort 当前绑定的端口，未连接时为空
func (s *Session) CommPort() string {
	if p := s.commPort.Load(); p != nil {
		return *p
	}
	return ""
}

// Scenario 已加载的仿真文件
func (s *Session) Scenario() *scenario.File {
	return s.scenario.Load()
}

// ActiveConfig 最近一次下发到设备的配置
func (s *Session) ActiveConfig() (settings.Snapshot, bool) {
	if a := s.active.Load(); a != nil {
		return *a, true
	}
	return settings.Snapshot{}, false
}

// OpenConnection 绑定端口并握手；commPort 为空时使用配置中的端口
func (s *Session) OpenConnection(ctx context.Context, commPort string) (err error) {
	const op = "open connection"
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe(op, time.Now(), &err)

	if err := s.usable(op); err != nil {
		return err
	}
	if State(s.state.Load()) != Disconnected {
		return protocol.Errorf(protocol.KindInvalidState, op, "已连接到 %s", s.CommPort())
	}

	if commPort == "" {
		commPort = s.opts.Store.CommPort()
	}
	if commPort == "" {
		return protocol.Errorf(protocol.KindInvalidArgument, op, "未指定端口")
	}
	if s.opts.Dialer == nil {
		return protocol.Errorf(protocol.KindTransportUnavailable, op, "未配置链路")
	}

	port, err := s.opts.Dialer.Dial(ctx, commPort)
	if err != nil {
		if protocol.KindOf(err) == protocol.KindUnknown {
			return protocol.NewError(protocol.KindTransportUnavailable, op, err)
		}
		return err
	}

	s.port = port
	s.lost.Store(false)
	s.commPort.Store(&commPort)
	s.worker = s.startWorker(port)

	if err := s.expectOK(ctx, op, protocol.CmdHello, nil, s.opts.AckTimeout, protocol.KindTransportUnavailable); err != nil {
		s.release(false)
		return err
	}

	s.state.Store(int32(Connected))
	monitor.ActiveSessions.Inc()
	s.log.WithField("port", commPort).Info("设备已连接")
	s.publish(protocol.MsgInfo, "connected to "+commPort)
	return nil
}

// LoadScenario 加载仿真文件；applySettings 为真时在传输完成后下发协议与引脚配置。
// 运行中不允许加载。
func (s *Session) LoadScenario(ctx context.Context, path string, applySettings bool) (err error) {
	const op = "load scenario"
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe(op, time.Now(), &err)

	if err := s.connectedFor(op); err != nil {
		return err
	}
	if State(s.state.Load()) == Started {
		return protocol.Errorf(protocol.KindInvalidState, op, "设备运行中，请先停止")
	}

	file, err := s.opts.Parser.Parse(path)
	if err != nil {
		return protocol.NewError(protocol.KindScenarioLoadFailed, op, err)
	}
	file.ApplySettings = applySettings

	if err := s.transfer(ctx, op, file); err != nil {
		return err
	}

	if applySettings {
		snap := s.opts.Store.Snapshot()
		if verr := snap.Validate(); verr != nil {
			// 配置在启动时再校验，这里只提示
			s.log.Warnf("配置未下发: %v", verr)
			s.publish(protocol.MsgWarning, "settings not applied: "+verr.Error())
		} else if err := s.pushSettings(ctx, op, snap); err != nil {
			// 设备上的文件已被替换，之前加载的文件不再有效
			s.scenario.Store(nil)
			return err
		}
	}

	s.scenario.Store(file)
	s.log.WithField("file", file.Name).Infof("仿真文件已加载: %d bytes", file.Size())
	s.publish(protocol.MsgInfo, fmt.Sprintf("scenario %s loaded (%d bytes)", file.Name, file.Size()))
	return nil
}

// StartDevice 启动仿真，需已加载文件且配置有效
func (s *Session) StartDevice(ctx context.Context) (err error) {
	const op = "start device"
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe(op, time.Now(), &err)

	if err := s.connectedFor(op); err != nil {
		return err
	}
	if State(s.state.Load()) == Started {
		return protocol.Errorf(protocol.KindInvalidState, op, "设备已启动")
	}

	file := s.scenario.Load()
	if file == nil {
		return protocol.Errorf(protocol.KindInvalidConfiguration, op, "未加载仿真文件")
	}

	snap := s.opts.Store.Snapshot()
	if err := snap.Validate(); err != nil {
		return err
	}

	if file.ApplySettings {
		if a := s.active.Load(); a == nil || a.Revision != snap.Revision {
			if err := s.pushSettings(ctx, op, snap); err != nil {
				return err
			}
		}
	}

	if err := s.expectOK(ctx, op, protocol.CmdStart, nil, s.opts.AckTimeout, protocol.KindInvalidConfiguration); err != nil {
		return err
	}

	s.state.Store(int32(Started))
	monitor.StartedDevices.Inc()
	s.log.Info("仿真已启动")
	s.publish(protocol.MsgStatus, "device started")
	return nil
}

// StopDevice 停止仿真；未启动时不做任何事
func (s *Session) StopDevice(ctx context.Context) (err error) {
	const op = "stop device"
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe(op, time.Now(), &err)

	if err := s.connectedFor(op); err != nil {
		return err
	}
	if State(s.state.Load()) != Started {
		return nil
	}

	if err := s.expectOK(ctx, op, protocol.CmdStop, nil, s.opts.AckTimeout, protocol.KindInvalidState); err != nil {
		return err
	}

	s.state.Store(int32(Connected))
	monitor.StartedDevices.Dec()
	s.log.Info("仿真已停止")
	s.publish(protocol.MsgStatus, "device stopped")
	return nil
}

// CloseConnection 断开链路；运行中会先尝试停止设备。总是成功
func (s *Session) CloseConnection() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe("close connection", time.Now(), new(error))

	s.release(true)
}

// Close 断开链路并丢弃会话状态，之后的控制操作都会失败。可重复调用
func (s *Session) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.closed.Load() {
		return nil
	}
	s.release(true)
	s.scenario.Store(nil)
	s.active.Store(nil)
	s.closed.Store(true)
	s.log.Debug("会话已销毁")
	return nil
}

// EraseFirmware 擦除主固件并跳转 bootloader。成功后端口被释放，会话不再可用
func (s *Session) EraseFirmware(ctx context.Context) (err error) {
	const op = "erase firmware"
	s.opMu.Lock()
	defer s.opMu.Unlock()
	defer s.observe(op, time.Now(), &err)

	if err := s.connectedFor(op); err != nil {
		return err
	}
	if State(s.state.Load()) == Started {
		return protocol.Errorf(protocol.KindInvalidState, op, "设备运行中，请先停止")
	}

	if err := s.expectOK(ctx, op, protocol.CmdEraseFW, nil, s.opts.EraseTimeout, protocol.KindFirmwareEraseFailed); err != nil {
		return err
	}

	s.erased.Store(true)
	s.log.Warn("主固件已擦除，设备进入 bootloader")
	s.publish(protocol.MsgWarning, "firmware erased, device is in bootloader mode")

	// 设备已不再响应仿真命令，直接释放端口供升级工具使用
	s.release(false)
	s.scenario.Store(nil)
	s.active.Store(nil)
	return nil
}

// usable 会话是否还能执行控制操作
func (s *Session) usable(op string) error {
	if s.closed.Load() {
		return protocol.Errorf(protocol.KindInvalidState, op, "会话已关闭")
	}
	if s.erased.Load() {
		return protocol.Errorf(protocol.KindInvalidState, op, "固件已擦除，请使用升级工具")
	}
	return nil
}

// connectedFor 要求链路已建立且未断开
func (s *Session) connectedFor(op string) error {
	if err := s.usable(op); err != nil {
		return err
	}
	if State(s.state.Load()) == Disconnected {
		return protocol.Errorf(protocol.KindInvalidState, op, "未连接")
	}
	if s.lost.Load() {
		return protocol.Errorf(protocol.KindTransportUnavailable, op, "链路已断开，请重新连接")
	}
	return nil
}

// transfer 分块传输文件：BEGIN、DATA...、END
func (s *Session) transfer(ctx context.Context, op string, file *scenario.File) error {
	timeout := s.opts.LoadTimeout
	begin := parser.EncodeLoadBegin(uint32(file.Size()), file.Checksum)
	if err := s.expectOK(ctx, op, protocol.CmdLoadBegin, begin, timeout, protocol.KindScenarioLoadFailed); err != nil {
		return err
	}

	for off := 0; off < file.Size(); off += s.opts.ChunkSize {
		end := off + s.opts.ChunkSize
		if end > file.Size() {
			end = file.Size()
		}
		if err := s.expectOK(ctx, op, protocol.CmdLoadData, file.Data[off:end], timeout, protocol.KindScenarioLoadFailed); err != nil {
			return err
		}
	}

	return s.expectOK(ctx, op, protocol.CmdLoadEnd, nil, timeout, protocol.KindScenarioLoadFailed)
}

// pushSettings 按 协议、接收线、发送线 的顺序下发配置
func (s *Session) pushSettings(ctx context.Context, op string, snap settings.Snapshot) error {
	rx, err := pinSetting(snap.RxPin)
	if err != nil {
		return protocol.NewError(protocol.KindInvalidConfiguration, op, err)
	}
	tx, err := pinSetting(snap.TxPin)
	if err != nil {
		return protocol.NewError(protocol.KindInvalidConfiguration, op, err)
	}

	steps := []struct {
		cmd     uint16
		payload []byte
	}{
		{protocol.CmdSetProtocol, []byte{uint8(snap.Protocol)}},
		{protocol.CmdSetRxPin, parser.EncodePin(rx)},
		{protocol.CmdSetTxPin, parser.EncodePin(tx)},
	}
	for _, step := range steps {
		if err := s.expectOK(ctx, op, step.cmd, step.payload, s.opts.AckTimeout, protocol.KindInvalidConfiguration); err != nil {
			return err
		}
	}

	s.active.Store(&snap)
	s.publish(protocol.MsgStatus, fmt.Sprintf("settings applied: %s rx=%s tx=%s", snap.Protocol, snap.RxPin.Pin, snap.TxPin.Pin))
	return nil
}

func pinSetting(p protocol.PinProfile) (parser.PinSetting, error) {
	if p.Pin == protocol.PinNone {
		return parser.PinSetting{Pin: protocol.PinNone}, nil
	}
	mv, ohms, err := p.Electrical()
	if err != nil {
		return parser.PinSetting{}, err
	}
	return parser.PinSetting{Pin: p.Pin, Inverted: p.Inverted, Millivolts: mv, Ohms: ohms}, nil
}

// release 停止设备、关闭链路并等待读取协程退出，失败只记录不返回。
// graceful 为假时不再向设备发送命令。
func (s *Session) release(graceful bool) {
	if s.port == nil {
		return
	}

	ctx := context.Background()
	wasState := State(s.state.Load())
	if graceful && !s.lost.Load() {
		if wasState == Started {
			if err := s.expectOK(ctx, "close connection", protocol.CmdStop, nil, s.opts.AckTimeout, protocol.KindInvalidState); err != nil {
				s.log.Warnf("停止设备失败: %v", err)
				s.publish(protocol.MsgError, "stop before close failed: "+err.Error())
			}
		}
		if err := s.expectOK(ctx, "close connection", protocol.CmdGoodbye, nil, goodbyeTimeout, protocol.KindTransportUnavailable); err != nil {
			s.log.Debugf("GOODBYE 无应答: %v", err)
		}
	}

	s.worker.stop(s.port, s.opts.AckTimeout, s.log)

	if wasState == Started {
		monitor.StartedDevices.Dec()
	}
	if wasState != Disconnected {
		monitor.ActiveSessions.Dec()
	}

	port := s.CommPort()
	s.port = nil
	s.worker = nil
	s.state.Store(int32(Disconnected))
	s.lost.Store(false)
	s.commPort.Store(nil)

	if wasState != Disconnected {
		s.log.WithField("port", port).Info("连接已关闭")
		s.publishPort(port, protocol.MsgInfo, "disconnected from "+port)
	}
}

// observe 记录控制操作结果
func (s *Session) observe(op string, start time.Time, err *error) {
	monitor.ObserveOp(op, start, *err)
	if *err != nil {
		s.log.WithField("op", op).Warnf("操作失败: %v", *err)
	}
}

func (s *Session) publish(category protocol.MsgType, text string) {
	s.publishPort(s.CommPort(), category, text)
}

func (s *Session) publishPort(port string, category protocol.MsgType, text string) {
	s.opts.Notifier.Deliver(protocol.EventMessage{
		CommPort:  port,
		Category:  category,
		Text:      text,
		SessionID: s.id,
		Timestamp: time.Now(),
	})
}
