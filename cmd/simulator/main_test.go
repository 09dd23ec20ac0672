package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute 运行命令，使用默认配置并隔离 .env
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	base := []string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--env", filepath.Join(dir, "missing.env"),
		"--log-level", "error",
	}

	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, base...))
	err := cmd.Execute()
	return out.String(), err
}

func writeScenario(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("7DF 02 01 00 -> 7E8 06 41 00 BE 3F A8 13\n"), 0o644))
	return path
}

func TestProtocolsJSON(t *testing.T) {
	out, err := execute(t, "protocols", "--json")
	require.NoError(t, err)

	var list []protocolInfo
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 6)
	assert.Equal(t, "CAN", list[0].Name)
	assert.Equal(t, []string{"PIN_1", "PIN_3", "PIN_6", "PIN_12"}, list[0].ReceivePins)
	assert.Equal(t, []string{"PIN_9", "PIN_11", "PIN_13", "PIN_14"}, list[0].TransmitPins)
}

func TestRunOnSimulatedPort(t *testing.T) {
	file := writeScenario(t, t.TempDir(), "idle.sim")

	out, err := execute(t, "run", "--port", "COM_SIM", "--file", file, "--duration", "50ms")
	require.NoError(t, err)
	assert.Contains(t, out, "connected to COM_SIM")
	assert.Contains(t, out, "settings applied: CAN")
	assert.Contains(t, out, "device started")
	assert.Contains(t, out, "device stopped")
	assert.Contains(t, out, "disconnected from COM_SIM")
}

func TestRunWithProtocolOverride(t *testing.T) {
	file := writeScenario(t, t.TempDir(), "idle.sim")

	_, err := execute(t, "run", "--file", file, "--protocol", "FlexRay", "--duration", "10ms")
	assert.Error(t, err)

	// J1939 与默认引脚 6/14 兼容
	out, err := execute(t, "run", "--file", file, "--protocol", "j1939", "--duration", "10ms")
	require.NoError(t, err)
	assert.Contains(t, out, "settings applied: J1939")
}

func TestRunRequiresFile(t *testing.T) {
	_, err := execute(t, "run", "--port", "COM_SIM")
	assert.Error(t, err)

	_, err = execute(t, "run", "--port", "COM_SIM", "--file", filepath.Join(t.TempDir(), "nope.sim"))
	assert.Error(t, err)
}

func TestBatch(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.sim")
	writeScenario(t, dir, "b.sim")
	writeScenario(t, dir, "b.correct.sim")

	out, err := execute(t, "batch", "--dir", dir, "--duration", "20ms")
	require.NoError(t, err)
	assert.Contains(t, out, "[1/2]")
	assert.Contains(t, out, "完成: 2 个文件, 0 个失败")
	assert.NotContains(t, out, "b.correct.sim")

	_, err = execute(t, "batch", "--dir", t.TempDir())
	assert.Error(t, err)
}

func TestErase(t *testing.T) {
	out, err := execute(t, "erase", "--port", "COM_SIM")
	require.NoError(t, err)
	assert.Contains(t, out, "firmware erased")
	assert.Contains(t, out, "固件已擦除")
}
