package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"permgate/cmd/permgate/daemon"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/infra/config"
	"permgate/internal/usecase/permission"
	"permgate/pkg/featuresdk"
)

// runCheck runs one sweep, prints every verdict and evaluates the
// configured features. Any failing feature is reported as an error.
func runCheck(cfgPath string, only []string, asJSON bool) error {
	ctx := context.Background()
	rt, err := initRuntime(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer rt.Close()

	core, err := initCore(rt.Config, nil, rt.Log)
	if err != nil {
		return err
	}
	defer core.Close()

	if err := core.Coordinator.CheckAll(ctx); err != nil {
		return err
	}
	snap := core.Coordinator.Snapshot()

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Fprintln(stdout, "Permissions")
	printVerdicts(stdout, core.Coordinator.Catalogue(), snap)

	features := selectFeatures(buildFeatures(rt.Config.Features, rt.Log), only)
	if len(features) == 0 {
		return nil
	}
	fmt.Fprintln(stdout, "\nFeatures")
	failed := 0
	for _, f := range features {
		res, err := core.Coordinator.Check(ctx, f)
		if err != nil {
			return err
		}
		printEligibility(stdout, f.Name(), res)
		if !res.Pass {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d feature(s) not eligible", failed)
	}
	return nil
}

func selectFeatures(all []*featuresdk.BaseFeature, only []string) []*featuresdk.BaseFeature {
	if len(only) == 0 {
		return all
	}
	out := make([]*featuresdk.BaseFeature, 0, len(only))
	for _, f := range all {
		if slices.Contains(only, f.Name()) {
			out = append(out, f)
		}
	}
	return out
}

func runCatalogue() error {
	for _, e := range permission.DefaultEntries() {
		fmt.Fprintf(stdout, "%-14s %s\n", e.Name, e.Descriptor.Description)
		fmt.Fprintf(stdout, "%-14s %s\n", "", dimColor.Sprint(e.Descriptor.ErrorMsg))
	}
	return nil
}

func runEncrypt(value, key string) error {
	enc, err := config.EncryptValue(value, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "enc:%s\n", enc)
	return nil
}

type grantOp int

const (
	grantAdd grantOp = iota
	grantRevoke
	grantList
)

// runGrant edits the platform grant store. It only needs the config file,
// not the logger or tracer.
func runGrant(cfgPath string, op grantOp, names []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store := grantstore.NewFileStore(grantstore.WithPath(cfg.Providers.Platform.GrantsFile))

	switch op {
	case grantAdd:
		if err := store.Grant(names...); err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintf(stdout, "%s granted %s\n", passMark(), n)
		}
	case grantRevoke:
		if err := store.Revoke(names...); err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintf(stdout, "%s revoked %s\n", warnMark(), n)
		}
	case grantList:
		set, err := store.Load()
		if err != nil {
			return err
		}
		if len(set.Granted) == 0 {
			fmt.Fprintln(stdout, dimColor.Sprint("no grants"))
		}
		for _, n := range set.Granted {
			fmt.Fprintln(stdout, n)
		}
	}
	return nil
}

type daemonOp int

const (
	daemonInstall daemonOp = iota
	daemonUninstall
	daemonStatus
)

func runDaemon(m *daemon.Manager, cfgPath string, op daemonOp) error {
	return runDaemonWith(m, daemon.DefaultConfig(cfgPath), op)
}

func runDaemonWith(m *daemon.Manager, cfg daemon.Config, op daemonOp) error {
	switch op {
	case daemonInstall:
		if err := m.Install(cfg); err != nil {
			return err
		}
		path, _ := m.UnitPath(cfg)
		fmt.Fprintf(stdout, "%s installed %s\n", passMark(), path)
	case daemonUninstall:
		if err := m.Uninstall(cfg); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s removed %s\n", warnMark(), cfg.Name)
	case daemonStatus:
		st, err := m.Status(cfg)
		if err != nil {
			return err
		}
		switch {
		case st.Running:
			fmt.Fprintf(stdout, "%s %s running (pid %d)\n", passMark(), cfg.Name, st.PID)
		case st.Installed:
			fmt.Fprintf(stdout, "%s %s installed but not running\n", warnMark(), cfg.Name)
		default:
			fmt.Fprintf(stdout, "%s %s not installed\n", failMark(), cfg.Name)
		}
	}
	return nil
}
