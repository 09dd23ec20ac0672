package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-simulator/pkg/protocol"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "COM_SIM", cfg.Device.CommPort)
	assert.Equal(t, protocol.ProtocolCAN, cfg.Simulator.Protocol)
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
device:
  comm_port: /dev/ttyUSB0
  ack_timeout: 750ms
simulator:
  protocol: kwp2000
  rx_pin:
    pin: PIN_7
    voltage: 12V
    inverted: true
    resistor: 510ohm
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Device.CommPort)
	assert.Equal(t, 750*time.Millisecond, cfg.Device.AckTimeout)
	assert.Equal(t, 115200, cfg.Device.BaudRate)
	assert.Equal(t, protocol.ProtocolKWP2000, cfg.Simulator.Protocol)
	assert.Equal(t, protocol.PinProfile{Pin: protocol.Pin7, VoltageLevel: "12V", Inverted: true, Resistor: "510ohm"}, cfg.Simulator.RxPin)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simulator:\n  protocol: flexray\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("device:\n  chunk_size: 99999\n"), 0o644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "chunk_size")
}

func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SIMULATOR_LOG_LEVEL=warn\n"), 0o644))
	t.Setenv("SIMULATOR_COMM_PORT", "COM7")
	t.Setenv("SIMULATOR_PROTOCOL", "J1850-VPW")
	t.Setenv("SIMULATOR_REDIS_ADDR", "redis:6379")
	t.Cleanup(func() { os.Unsetenv("SIMULATOR_LOG_LEVEL") })

	cfg := GetDefaultConfig()
	require.NoError(t, cfg.ApplyEnv(envFile, filepath.Join(t.TempDir(), "absent.env")))

	assert.Equal(t, "COM7", cfg.Device.CommPort)
	assert.Equal(t, protocol.ProtocolJ1850VPW, cfg.Simulator.Protocol)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)

	t.Setenv("SIMULATOR_PROTOCOL", "bogus")
	assert.Error(t, GetDefaultConfig().ApplyEnv())
}
