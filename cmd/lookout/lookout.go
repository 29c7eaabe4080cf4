package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/server"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultConfig := "$HOME/lookout/lookout.json"

	parser := argparse.NewParser("lookout", "Live object detection from a camera")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON)", Default: nominalDefaultConfig})
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP listen address, overriding the config file (eg :8080)", Default: ""})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Hot reload www instead of embedding into binary", Default: false})
	synthetic := parser.Flag("", "synthetic", &argparse.Options{Help: "Use simulated detections instead of loading a model", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if *configFile == nominalDefaultConfig {
		home, _ := os.UserHomeDir()
		if home == "" {
			home = "/var/lib"
		}
		*configFile = filepath.Join(home, "lookout", "lookout.json")
	}

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	logger.Infof("Database: %v", cfg.DB.LogSafeDescription())

	flags := 0
	if *hotReloadWWW {
		flags |= server.ServerFlagHotReloadWWW
	}
	if *synthetic {
		flags |= server.ServerFlagSynthetic
	}
	srv, err := server.NewServer(logger, cfg, flags)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if cfg.HTTPS != nil {
		err = srv.ListenHTTPS()
	} else {
		// SYNC-SERVER-PORT
		err = srv.ListenHTTP(cfg.Listen)
	}
	if !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Listen failed: %v", err)
		srv.Shutdown()
	}

	err = <-srv.ShutdownComplete
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
