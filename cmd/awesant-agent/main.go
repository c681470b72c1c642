// Command awesant-agent is the foreground entrypoint: it loads the TOML
// configuration, starts the supervisor, and stops cleanly on SIGINT/SIGTERM.
//
// Process daemonization (pidfile, setuid/setgid, stdio redirection) is a
// stub per spec.md's explicit Non-goal; run this under a process manager
// (systemd, runit, ...) for that.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "/etc/awesant/agent.conf", "path to the agent's TOML configuration")
	logLevel := flag.String("log-level", "info", "self-log level: debug, info, warn, error")
	logFile := flag.String("log-file", "", "self-log file path (empty logs to stderr)")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "awesant-agent: invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(1)
	}

	var fileCfg *logging.FileConfig
	if *logFile != "" {
		fileCfg = &logging.FileConfig{Path: *logFile, MaxSizeMB: 100, MaxBackups: 7, MaxAgeDays: 28, Compress: true}
	}
	log := logging.New(level, fileCfg)

	if err := run(*configPath, log); err != nil {
		log.Fatalf("awesant-agent: %v", err)
	}
}

func run(configPath string, log *logging.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sup, err := supervisor.New(cfg, log)
	if err != nil {
		return fmt.Errorf("starting supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("awesant-agent starting, host=%s inputs=%d outputs=%d", cfg.Host, len(cfg.Inputs), len(cfg.Outputs))
	err = sup.Run(ctx)
	log.Infof("awesant-agent stopped")
	return err
}
