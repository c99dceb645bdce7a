package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"

	"permgate/cmd/permgate/daemon"
)

var version = "dev"

var (
	app        = kingpin.New("permgate", "Permission gate for host features")
	configFile = app.Flag("config", "Config file path").
			Short('c').
			Envar("PERMGATE_CONFIG").
			Default("permgate.yaml").
			String()
	noColor = app.Flag("no-color", "Disable colored output").Bool()

	serveCmd = app.Command("serve", "Run the coordinator, change feeds and gateway").Default()

	checkCmd      = app.Command("check", "Run one full sweep and print every verdict")
	checkFeatures = checkCmd.Arg("feature", "Configured features to evaluate (default: all)").Strings()
	checkJSON     = checkCmd.Flag("json", "Print the permission map as JSON").Bool()

	catalogueCmd = app.Command("catalogue", "List the known permissions")

	encryptCmd   = app.Command("encrypt", "Encrypt a secret for use as an enc: config value")
	encryptValue = encryptCmd.Arg("value", "Plaintext to encrypt").Required().String()
	encryptKey   = encryptCmd.Flag("key", "Passphrase").Envar("PERMGATE_CONFIG_KEY").Required().String()

	grantCmd        = app.Command("grant", "Manage platform grants")
	grantAddCmd     = grantCmd.Command("add", "Grant capabilities")
	grantAddNames   = grantAddCmd.Arg("name", "Capability names").Required().Strings()
	grantRevokeCmd  = grantCmd.Command("revoke", "Revoke capabilities")
	grantRevokeName = grantRevokeCmd.Arg("name", "Capability names").Required().Strings()
	grantListCmd    = grantCmd.Command("list", "List granted capabilities")

	doctorCmd = app.Command("doctor", "Run health checks on your setup")

	daemonCmd          = app.Command("daemon", "Manage permgate as a user service")
	daemonInstallCmd   = daemonCmd.Command("install", "Install and start the service")
	daemonUninstallCmd = daemonCmd.Command("uninstall", "Stop and remove the service")
	daemonStatusCmd    = daemonCmd.Command("status", "Show service status")
)

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *noColor {
		color.NoColor = true
	}

	var err error
	switch command {
	case serveCmd.FullCommand():
		err = runServe(*configFile)
	case checkCmd.FullCommand():
		err = runCheck(*configFile, *checkFeatures, *checkJSON)
	case catalogueCmd.FullCommand():
		err = runCatalogue()
	case encryptCmd.FullCommand():
		err = runEncrypt(*encryptValue, *encryptKey)
	case grantAddCmd.FullCommand():
		err = runGrant(*configFile, grantAdd, *grantAddNames)
	case grantRevokeCmd.FullCommand():
		err = runGrant(*configFile, grantRevoke, *grantRevokeName)
	case grantListCmd.FullCommand():
		err = runGrant(*configFile, grantList, nil)
	case doctorCmd.FullCommand():
		err = runDoctor(*configFile)
	case daemonInstallCmd.FullCommand():
		err = runDaemon(daemon.NewManager(), *configFile, daemonInstall)
	case daemonUninstallCmd.FullCommand():
		err = runDaemon(daemon.NewManager(), *configFile, daemonUninstall)
	case daemonStatusCmd.FullCommand():
		err = runDaemon(daemon.NewManager(), *configFile, daemonStatus)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", failMark(), command, err)
		os.Exit(1)
	}
}
