// Command bgpd is the daemon entrypoint: it loads a thin bootstrap
// configuration, starts the configured helper processes, and runs the
// supervisor loop until a shutdown signal drains every peer (spec.md
// section 6's external interfaces, wired the way
// original_source/lib/exabgp/structure/supervisor.py wires SIGTERM/
// SIGHUP/SIGALRM into its own run loop).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/transitorykris/exard/process"
	"github.com/transitorykris/exard/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the bootstrap YAML configuration")
	pidFile := flag.String("pid-file", "", "optional path to write this process's PID to")
	debug := flag.Bool("debug", false, "log at debug level")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "bgpd")

	if *configPath == "" {
		log.Error("-config is required")
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("failed to load configuration")
		return 1
	}
	neighbors, err := cfg.neighbors()
	if err != nil {
		log.WithError(err).Error("failed to build neighbor set")
		return 1
	}

	if *pidFile != "" {
		if err := writePIDFile(*pidFile); err != nil {
			log.WithError(err).Error("failed to write PID file")
			return 1
		}
		defer os.Remove(*pidFile)
	}

	registry := process.New()
	ctx := context.Background()
	for _, pc := range cfg.Processes {
		if err := registry.Start(ctx, pc.Name, pc.Command, pc.Args); err != nil {
			log.WithError(err).WithField("helper", pc.Name).Error("failed to start helper process")
			return 1
		}
	}

	sv := supervisor.New(registry)
	sv.RequestReload(neighbors)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGALRM, os.Interrupt)
	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGTERM, os.Interrupt:
				log.Info("SIGTERM received")
				sv.RequestShutdown()
			case syscall.SIGHUP:
				log.Info("SIGHUP received")
				reloaded, err := loadConfig(*configPath)
				if err != nil {
					log.WithError(err).Warn("reload: failed to reload configuration, keeping current neighbors")
					sv.RequestRestart()
					continue
				}
				n, err := reloaded.neighbors()
				if err != nil {
					log.WithError(err).Warn("reload: failed to build neighbor set, keeping current neighbors")
					sv.RequestRestart()
					continue
				}
				sv.RequestReload(n)
			case syscall.SIGALRM:
				log.Info("SIGALRM received")
				sv.RequestRestart()
			}
		}
	}()

	for _, n := range neighbors {
		log.WithFields(logrus.Fields{
			"peer":      n.PeerAddr,
			"router-id": uint32ToIP(n.RouterID),
		}).Debug("configured neighbor")
	}
	log.WithField("neighbors", len(neighbors)).Info("starting bgpd")
	if err := sv.Run(); err != nil {
		log.WithError(err).Error("supervisor exited with an error")
		return 1
	}
	log.Info("shutdown complete")
	return 0
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
