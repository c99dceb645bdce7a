package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	reply map[string]string
	fail  map[string]bool
}

func (r *recorder) run(name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, cmd)
	if r.fail[cmd] {
		return []byte("boom"), errors.New("exit status 1")
	}
	return []byte(r.reply[cmd]), nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	dir := t.TempDir()
	return Config{
		Name:       "permgate",
		BinaryPath: exe,
		ConfigPath: "/home/test/permgate.yaml",
		LogDir:     filepath.Join(dir, "logs"),
		HomeDir:    "/home/test",
		UnitDir:    filepath.Join(dir, "units"),
	}
}

func TestRenderSystemdUnit(t *testing.T) {
	content, err := RenderSystemdUnit(Config{
		Name:       "permgate",
		BinaryPath: "/usr/local/bin/permgate",
		ConfigPath: "/home/test/permgate.yaml",
		LogDir:     "/home/test/.permgate/logs",
		HomeDir:    "/home/test",
	})
	require.NoError(t, err)

	for _, want := range []string{
		"Description=permgate permission coordinator",
		"ExecStart=/usr/local/bin/permgate --config /home/test/permgate.yaml serve",
		"StandardOutput=append:/home/test/.permgate/logs/permgate.log",
		"Environment=HOME=/home/test",
		"WantedBy=default.target",
	} {
		assert.Contains(t, content, want)
	}
}

func TestRenderLaunchdPlist(t *testing.T) {
	content, err := RenderLaunchdPlist(Config{
		Name:       "permgate",
		BinaryPath: "/usr/local/bin/permgate",
		ConfigPath: "/Users/test/permgate.yaml",
		LogDir:     "/Users/test/.permgate/logs",
	})
	require.NoError(t, err)

	for _, want := range []string{
		"<string>io.permgate.permgate</string>",
		"<string>/Users/test/permgate.yaml</string>",
		"<string>serve</string>",
		"KeepAlive",
		"/Users/test/.permgate/logs/permgate.log",
	} {
		assert.Contains(t, content, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("permgate.yaml")
	assert.Equal(t, "permgate", cfg.Name)
	assert.NotEmpty(t, cfg.BinaryPath)
	assert.True(t, filepath.IsAbs(cfg.ConfigPath))
	assert.NotEmpty(t, cfg.HomeDir)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	assert.ErrorContains(t, cfg.Validate(), "name")

	cfg = Config{Name: "x"}
	assert.ErrorContains(t, cfg.Validate(), "binary path")

	cfg = Config{Name: "x", BinaryPath: "/nonexistent/permgate"}
	assert.Error(t, cfg.Validate())

	notExec := filepath.Join(t.TempDir(), "notexec")
	require.NoError(t, os.WriteFile(notExec, []byte("#!/bin/sh"), 0o644))
	cfg = Config{Name: "x", BinaryPath: notExec, ConfigPath: "c"}
	assert.ErrorContains(t, cfg.Validate(), "not executable")

	valid := testConfig(t)
	assert.NoError(t, valid.Validate())
}

func TestUnitPath(t *testing.T) {
	cfg := Config{Name: "permgate", HomeDir: "/home/test"}

	p, err := NewManagerFor("linux", nil).UnitPath(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/home/test/.config/systemd/user/permgate.service", p)

	p, err = NewManagerFor("darwin", nil).UnitPath(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/home/test/Library/LaunchAgents/io.permgate.permgate.plist", p)

	_, err = NewManagerFor("plan9", nil).UnitPath(cfg)
	assert.ErrorContains(t, err, "unsupported platform")
}

func TestInstallSystemd(t *testing.T) {
	rec := &recorder{}
	m := NewManagerFor("linux", rec.run)
	cfg := testConfig(t)

	require.NoError(t, m.Install(cfg))

	data, err := os.ReadFile(filepath.Join(cfg.UnitDir, "permgate.service"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ExecStart="+cfg.BinaryPath)
	assert.DirExists(t, cfg.LogDir)
	assert.Equal(t, []string{
		"systemctl --user daemon-reload",
		"systemctl --user enable --now permgate",
	}, rec.calls)
}

func TestInstallReportsCommandFailure(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"systemctl --user daemon-reload": true}}
	err := NewManagerFor("linux", rec.run).Install(testConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestInstallLaunchd(t *testing.T) {
	rec := &recorder{}
	m := NewManagerFor("darwin", rec.run)
	cfg := testConfig(t)

	require.NoError(t, m.Install(cfg))
	plist := filepath.Join(cfg.UnitDir, "io.permgate.permgate.plist")
	assert.FileExists(t, plist)
	assert.Equal(t, []string{"launchctl load " + plist}, rec.calls)
}

func TestUninstall(t *testing.T) {
	rec := &recorder{fail: map[string]bool{"systemctl --user disable --now permgate": true}}
	m := NewManagerFor("linux", rec.run)
	cfg := testConfig(t)
	require.NoError(t, m.Install(cfg))

	require.NoError(t, m.Uninstall(cfg), "stop failures are ignored")
	assert.NoFileExists(t, filepath.Join(cfg.UnitDir, "permgate.service"))
	require.NoError(t, m.Uninstall(cfg), "uninstalling twice is fine")
}

func TestStatusSystemd(t *testing.T) {
	rec := &recorder{reply: map[string]string{
		"systemctl --user is-active permgate":               "active\n",
		"systemctl --user show --property=MainPID permgate": "MainPID=4242\n",
	}}
	m := NewManagerFor("linux", rec.run)
	cfg := testConfig(t)

	st, err := m.Status(cfg)
	require.NoError(t, err)
	assert.False(t, st.Installed)
	assert.True(t, st.Running)
	assert.Equal(t, 4242, st.PID)

	rec.reply["systemctl --user is-active permgate"] = "inactive\n"
	st, err = m.Status(cfg)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Zero(t, st.PID)
}

func TestStatusLaunchd(t *testing.T) {
	rec := &recorder{reply: map[string]string{
		"launchctl list io.permgate.permgate": "{\n\t\"Label\" = \"io.permgate.permgate\";\n\t\"PID\" = 311;\n};\n",
	}}
	st, err := NewManagerFor("darwin", rec.run).Status(testConfig(t))
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 311, st.PID)

	rec.fail = map[string]bool{"launchctl list io.permgate.permgate": true}
	st, err = NewManagerFor("darwin", rec.run).Status(testConfig(t))
	require.NoError(t, err)
	assert.False(t, st.Running)
}
