package main

import (
	"context"
	"fmt"
	"os"

	"github.com/core-tools/hsu-iedriver/pkg/config"
	"github.com/core-tools/hsu-iedriver/pkg/driver"
	"github.com/core-tools/hsu-iedriver/pkg/logging"
	"github.com/core-tools/hsu-iedriver/pkg/reporter"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"path to the YAML configuration file"`
	Port     int    `long:"port" description:"first port to try for the driver"`
	MaxPort  int    `long:"max-port" description:"last port to try for the driver"`
	Host     string `long:"host" description:"host the driver binds to"`
	PassHost bool   `long:"pass-host" description:"pass --host to the driver"`
	Binary   string `long:"binary" description:"path to IEDriverServer.exe"`
	LogLevel string `long:"log-level" description:"debug, info, warn or error"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration failed: %v\n", err)
		os.Exit(1)
	}

	backend, err := logging.NewZapBackend(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer backend.Close()

	logger := backend.Logger(logPrefix("hsu-iedriver"))
	logger.Infof("opts: %+v", opts)
	logger.Infof("Starting %s driver %s...", driver.InternetExplorer().LongName, driver.DriverVersion)

	events := reporter.NewLoggerSink(backend.Logger(logPrefix("events")))
	if err := driver.Run(context.Background(), cfg, logger, events); err != nil {
		logger.Errorf("Driver run failed: %v", err)
		backend.Close()
		os.Exit(1)
	}

	logger.Infof("Driver stopped")
}

func loadConfig(opts flagOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.Config != "" {
		loaded, err := config.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	d := &cfg.Driver
	if opts.Port != 0 {
		d.Port = opts.Port
		d.MaxPort = d.Port + config.SinglePortWindow
	}
	if opts.MaxPort != 0 {
		d.MaxPort = opts.MaxPort
	}
	if opts.Host != "" {
		d.Host = opts.Host
	}
	if opts.PassHost {
		d.PassHost = true
	}
	if opts.Binary != "" {
		d.BinaryPath = opts.Binary
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
