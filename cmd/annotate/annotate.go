package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/annotate/server"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("annotate", "Bounding box annotation server")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	framesDir := parser.String("f", "frames", &argparse.Options{Help: "Directory of frames to annotate (overrides config)", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, eg :8090 (overrides config)", Default: ""})
	carry := parser.Flag("", "carry", &argparse.Options{Help: "Seed unvisited frames with the boxes of the previous annotated frame", Default: false})
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

	cfg, err := server.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *framesDir != "" {
		cfg.FramesDir = *framesDir
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *carry {
		cfg.CarryForward = true
	}

	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if cfg.HTTPS != nil {
		err = srv.ListenHTTPS(*cfg.HTTPS)
	} else {
		err = srv.ListenHTTP(cfg.Listen)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Listen failed: %v", err)
		srv.Shutdown()
	}
	<-srv.ShutdownComplete
}
