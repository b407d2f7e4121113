// Command lesnetctl drives the LESNet model server from the terminal. It can
// submit and follow a model run, list datasets, read a grid value, compute
// the MAE of a layer or export its values as a GeoTIFF.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"lesnet-viewer/internal/api"
	"lesnet-viewer/internal/config"
)

// Version is set by the linker
var Version = "0.0.0-dev"

const usage = `Usage: lesnetctl [global flags] <command> [flags]

Commands:
  run     submit a model run and wait for it to finish
  list    list datasets on the server, newest first
  value   print the value of a layer at a coordinate
  mae     print the MAE of a layer against the reference layer
  export  write a layer's values to a Float32 GeoTIFF

Global flags:
`

func main() {
	var (
		configFile = pflag.StringP("config", "c", "", "Settings file (default: the viewer's settings)")
		server     = pflag.StringP("server", "s", "", "Model server URL (overrides settings)")
		logLevel   = pflag.String("log-level", "", "Log level (overrides settings)")
		version    = pflag.BoolP("version", "v", false, "Print version and exit")
	)
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *version {
		fmt.Printf("lesnetctl %s\n", Version)
		os.Exit(0)
	}
	if pflag.NArg() == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	path := *configFile
	if path == "" {
		path = config.GetSettingsPath()
	}
	settings, err := config.LoadSettingsFrom(path)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load settings")
	}
	if *server != "" {
		settings.ServerURL = *server
	}
	if *logLevel != "" {
		settings.LogLevel = *logLevel
	}
	if err := settings.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid settings")
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(settings.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	client, err := api.NewClient(settings.ServerURL, settings.RequestTimeout())
	if err != nil {
		log.WithError(err).Fatal("Failed to create client")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &env{client: client, settings: settings, log: log, out: os.Stdout}
	if err := env.dispatch(ctx, pflag.Arg(0), pflag.Args()[1:]); err != nil {
		log.WithError(err).Error(pflag.Arg(0) + " failed")
		stop()
		os.Exit(1)
	}
}
