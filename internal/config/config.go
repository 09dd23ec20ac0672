package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"obd-simulator/pkg/protocol"
)

type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Scenario  ScenarioConfig  `yaml:"scenario"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Emulator  EmulatorConfig  `yaml:"emulator"`
}

type DeviceConfig struct {
	CommPort       string        `yaml:"comm_port"`
	BaudRate       int           `yaml:"baud_rate"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
	EraseTimeout   time.Duration `yaml:"erase_timeout"`
	ChunkSize      int           `yaml:"chunk_size"`
	BufferSize     int           `yaml:"buffer_size"`
	SimulatedPorts []string      `yaml:"simulated_ports"`
}

type SimulatorConfig struct {
	Protocol      protocol.Protocol   `yaml:"protocol"`
	ApplySettings bool                `yaml:"apply_settings"`
	RxPin         protocol.PinProfile `yaml:"rx_pin"`
	TxPin         protocol.PinProfile `yaml:"tx_pin"`
}

type ScenarioConfig struct {
	MaxSize    int64    `yaml:"max_size"`
	Extensions []string `yaml:"extensions"`
	Dir        string   `yaml:"dir"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	QueueLen int    `yaml:"queue_len"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

type EmulatorConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxConnections int           `yaml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	EventInterval  time.Duration `yaml:"event_interval"`
}

// LoadConfig 加载配置文件，未设置的字段使用默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			CommPort:       "COM_SIM",
			BaudRate:       115200,
			ReadTimeout:    100 * time.Millisecond,
			DialTimeout:    5 * time.Second,
			AckTimeout:     2 * time.Second,
			LoadTimeout:    5 * time.Second,
			EraseTimeout:   10 * time.Second,
			ChunkSize:      512,
			BufferSize:     4096,
			SimulatedPorts: []string{"COM_SIM"},
		},
		Simulator: SimulatorConfig{
			Protocol:      protocol.ProtocolCAN,
			ApplySettings: true,
			RxPin: protocol.PinProfile{
				Pin:          protocol.Pin6,
				VoltageLevel: "5V",
				Resistor:     "120ohm",
			},
			TxPin: protocol.PinProfile{
				Pin:          protocol.Pin14,
				VoltageLevel: "5V",
				Resistor:     "120ohm",
			},
		},
		Scenario: ScenarioConfig{
			MaxSize:    4 << 20,
			Extensions: []string{".sim"},
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			Channel:  "simulator_events",
			QueueLen: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     false,
			MetricsPort: 9090,
		},
		Emulator: EmulatorConfig{
			Host:           "0.0.0.0",
			Port:           7700,
			MaxConnections: 16,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     4096,
			EventInterval:  time.Second,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if c.Device.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("device.baud_rate 必须大于 0"))
	}
	if c.Device.AckTimeout <= 0 {
		errs = append(errs, fmt.Errorf("device.ack_timeout 必须大于 0"))
	}
	if c.Device.ChunkSize <= 0 || c.Device.ChunkSize > protocol.MaxPayloadSize {
		errs = append(errs, fmt.Errorf("device.chunk_size 必须在 1..%d 之间", protocol.MaxPayloadSize))
	}
	if c.Device.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("device.buffer_size 必须大于 0"))
	}
	if !c.Simulator.Protocol.Supported() {
		errs = append(errs, fmt.Errorf("simulator.protocol 不支持: %s", c.Simulator.Protocol))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis.addr 不能为空"))
	}
	if c.Emulator.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("emulator.max_connections 必须大于 0"))
	}

	return errors.Join(errs...)
}

// ApplyEnv 读取 .env 文件和环境变量覆盖配置
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) > 0 {
		for _, f := range envFiles {
			if _, err := os.Stat(f); err != nil {
				continue
			}
			if err := godotenv.Load(f); err != nil {
				return fmt.Errorf("加载环境文件失败: %w", err)
			}
		}
	}

	if v := os.Getenv("SIMULATOR_COMM_PORT"); v != "" {
		c.Device.CommPort = v
	}
	if v := os.Getenv("SIMULATOR_PROTOCOL"); v != "" {
		p, err := protocol.ParseProtocol(v)
		if err != nil {
			return fmt.Errorf("SIMULATOR_PROTOCOL: %w", err)
		}
		c.Simulator.Protocol = p
	}
	if v := os.Getenv("SIMULATOR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("SIMULATOR_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	return nil
}
