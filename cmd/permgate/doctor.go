package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"permgate/internal/adapter/cookie"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(cfgPath string) error {
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Cookie file", Fn: checkCookieFile},
		{Name: "Grant store", Fn: checkGrantStore},
		{Name: "PiP probe", Fn: checkPIPProbe},
		{Name: "Gateway", Fn: checkGateway},
	}

	fmt.Fprintln(stdout, "permgate doctor")
	fmt.Fprintln(stdout, strings.Repeat("=", 50))

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(stdout, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(stdout, "      Fix: %s\n", result.Fix)
		}
		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(stdout, strings.Repeat("-", 50))
	fmt.Fprintf(stdout, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return passMark()
	case StatusWarn:
		return warnMark()
	case StatusFail:
		return failMark()
	default:
		return "[????]"
	}
}

// checkConfigFile reports whether the config file exists and loads. A
// missing file is only a warning: permgate runs on defaults.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix %s and ensure it is not group or world accessible", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkCookieFile(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, config not loaded"}
	}
	login := cfg.Providers.Login
	store := cookie.NewFileStore(login.CookieFile)
	if _, err := os.Stat(login.CookieFile); errors.Is(err, os.ErrNotExist) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s does not exist, login will fail", login.CookieFile),
			Fix:     "Export your browser cookies in Netscape format to that path",
		}
	}
	c, err := store.Lookup(login.URL, login.Cookie)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if c == nil {
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("no %s cookie for %s", login.Cookie, login.URL)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s cookie present", login.Cookie)}
}

func checkGrantStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, config not loaded"}
	}
	store := grantstore.NewFileStore(grantstore.WithPath(cfg.Providers.Platform.GrantsFile))
	set, err := store.Load()
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d grant(s) in %s", len(set.Granted), store.ConfigPath())}
}

func checkPIPProbe(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Providers.PIP.Probe != "chromedp" {
		return CheckResult{Status: StatusPass, Message: "static probe, no browser required"}
	}
	if cfg.Providers.PIP.RemoteURL != "" {
		return CheckResult{Status: StatusPass, Message: "remote browser at " + cfg.Providers.PIP.RemoteURL}
	}
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return CheckResult{Status: StatusPass, Message: fmt.Sprintf("found %s at %s", name, path)}
		}
	}
	return CheckResult{
		Status:  StatusFail,
		Message: "chromedp probe selected but no Chromium found",
		Fix:     "Install Chromium, set providers.pip.remote_url, or use probe: static",
	}
}

func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil || !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the process using that port or change gateway.addr",
		}
	}
	ln.Close()
	if cfg.Gateway.Auth.Type != "static" {
		host, _, _ := net.SplitHostPort(cfg.Gateway.Addr)
		if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			return CheckResult{
				Status:  StatusWarn,
				Message: "gateway accepts unauthenticated clients on a non-loopback address",
				Fix:     "Set gateway.auth.type: static with tokens",
			}
		}
	}
	return CheckResult{Status: StatusPass, Message: "listening address free: " + cfg.Gateway.Addr}
}
