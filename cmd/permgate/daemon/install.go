// Package daemon installs permgate serve as a per-user system service:
// a systemd user unit on Linux, a launchd agent on macOS.
package daemon

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"text/template"
)

const launchdLabelPrefix = "io.permgate."

// Config holds parameters for service installation.
type Config struct {
	Name       string
	BinaryPath string
	ConfigPath string
	LogDir     string
	HomeDir    string
	// UnitDir overrides where the unit or plist is written.
	UnitDir string
}

// Status holds the state of an installed service.
type Status struct {
	Installed bool
	Running   bool
	PID       int
}

// Runner executes a service manager command. Tests replace it.
type Runner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Manager installs and inspects the service for one platform.
type Manager struct {
	goos string
	run  Runner
}

// NewManager returns a manager for the running platform.
func NewManager() *Manager {
	return &Manager{goos: runtime.GOOS, run: execRunner}
}

// NewManagerFor returns a manager for goos that runs commands through run.
func NewManagerFor(goos string, run Runner) *Manager {
	return &Manager{goos: goos, run: run}
}

// DefaultConfig fills in paths from the current executable and home dir.
// configPath is made absolute so the service does not depend on its cwd.
func DefaultConfig(configPath string) Config {
	binary, _ := os.Executable()
	if binary == "" {
		binary = "/usr/local/bin/permgate"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/root"
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	return Config{
		Name:       "permgate",
		BinaryPath: binary,
		ConfigPath: configPath,
		LogDir:     filepath.Join(home, ".permgate", "logs"),
		HomeDir:    home,
	}
}

// Validate checks the Config is installable.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.BinaryPath == "" {
		return fmt.Errorf("binary path is required")
	}
	info, err := os.Stat(c.BinaryPath)
	if err != nil {
		return fmt.Errorf("binary %q: %w", c.BinaryPath, err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("binary %q is not executable", c.BinaryPath)
	}
	if c.ConfigPath == "" {
		return fmt.Errorf("config path is required")
	}
	return nil
}

// UnitPath returns where Install writes the service definition.
func (m *Manager) UnitPath(cfg Config) (string, error) {
	switch m.goos {
	case "linux":
		dir := cfg.UnitDir
		if dir == "" {
			dir = filepath.Join(cfg.HomeDir, ".config", "systemd", "user")
		}
		return filepath.Join(dir, cfg.Name+".service"), nil
	case "darwin":
		dir := cfg.UnitDir
		if dir == "" {
			dir = filepath.Join(cfg.HomeDir, "Library", "LaunchAgents")
		}
		return filepath.Join(dir, launchdLabelPrefix+cfg.Name+".plist"), nil
	default:
		return "", fmt.Errorf("unsupported platform: %s", m.goos)
	}
}

// Install writes the service definition and starts it.
func (m *Manager) Install(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := m.UnitPath(cfg)
	if err != nil {
		return err
	}

	var content string
	var cmds [][]string
	switch m.goos {
	case "linux":
		content, err = RenderSystemdUnit(cfg)
		cmds = [][]string{
			{"systemctl", "--user", "daemon-reload"},
			{"systemctl", "--user", "enable", "--now", cfg.Name},
		}
	case "darwin":
		content, err = RenderLaunchdPlist(cfg)
		cmds = [][]string{{"launchctl", "load", path}}
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create unit dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	for _, args := range cmds {
		if out, err := m.run(args[0], args[1:]...); err != nil {
			return fmt.Errorf("%s: %s: %w", strings.Join(args, " "), bytes.TrimSpace(out), err)
		}
	}
	return nil
}

// Uninstall stops the service and removes its definition. Stop failures
// are ignored so a half-installed service can still be removed.
func (m *Manager) Uninstall(cfg Config) error {
	path, err := m.UnitPath(cfg)
	if err != nil {
		return err
	}
	switch m.goos {
	case "linux":
		m.run("systemctl", "--user", "disable", "--now", cfg.Name)
	case "darwin":
		m.run("launchctl", "unload", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	if m.goos == "linux" {
		m.run("systemctl", "--user", "daemon-reload")
	}
	return nil
}

// Status reports whether the service is installed and running.
func (m *Manager) Status(cfg Config) (*Status, error) {
	path, err := m.UnitPath(cfg)
	if err != nil {
		return nil, err
	}
	st := &Status{}
	if _, err := os.Stat(path); err == nil {
		st.Installed = true
	}

	switch m.goos {
	case "linux":
		out, _ := m.run("systemctl", "--user", "is-active", cfg.Name)
		st.Running = strings.TrimSpace(string(out)) == "active"
		if !st.Running {
			return st, nil
		}
		if out, err := m.run("systemctl", "--user", "show", "--property=MainPID", cfg.Name); err == nil {
			if _, pid, ok := strings.Cut(strings.TrimSpace(string(out)), "="); ok {
				st.PID, _ = strconv.Atoi(pid)
			}
		}
	case "darwin":
		out, err := m.run("launchctl", "list", launchdLabelPrefix+cfg.Name)
		if err != nil {
			return st, nil
		}
		st.Running = true
		for _, line := range strings.Split(string(out), "\n") {
			if strings.Contains(line, `"PID"`) {
				fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), ";"))
				if len(fields) > 0 {
					st.PID, _ = strconv.Atoi(fields[len(fields)-1])
				}
			}
		}
	}
	return st, nil
}

const systemdTemplate = `[Unit]
Description={{.Name}} permission coordinator
After=network.target

[Service]
Type=simple
ExecStart={{.BinaryPath}} --config {{.ConfigPath}} serve
Restart=on-failure
RestartSec=5
StandardOutput=append:{{.LogDir}}/{{.Name}}.log
StandardError=append:{{.LogDir}}/{{.Name}}.log
Environment=HOME={{.HomeDir}}

[Install]
WantedBy=default.target
`

// RenderSystemdUnit renders the systemd user unit.
func RenderSystemdUnit(cfg Config) (string, error) {
	return render("systemd", systemdTemplate, cfg)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.BinaryPath}}</string>
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
        <string>serve</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogDir}}/{{.Name}}.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/{{.Name}}.log</string>
</dict>
</plist>
`

// RenderLaunchdPlist renders the launchd agent plist.
func RenderLaunchdPlist(cfg Config) (string, error) {
	return render("launchd", launchdTemplate, struct {
		Config
		Label string
	}{cfg, launchdLabelPrefix + cfg.Name})
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
