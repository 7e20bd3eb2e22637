package main

import (
	"fmt"
	"os"

	"httpgate/internal/bootstrap"
	"httpgate/internal/config"
	"httpgate/internal/logger"
	"httpgate/internal/version"

	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version.GetVersion())
		os.Exit(0)
	}

	conf, err := config.MustLoad()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.WithFormat(conf.LogFormat()), logger.WithLevel(conf.LogLevel()))
	defer func() { _ = log.Sync() }()
	restore := logger.Install(log)
	defer restore()

	log.Info("starting", zap.String("version", version.GetVersion()))

	b, err := bootstrap.New(conf, log)
	if err != nil {
		log.Error("failed to initialize", zap.Error(err))
		os.Exit(1)
	}

	if err = b.Run(); err != nil {
		log.Error("application error", zap.Error(err))
		os.Exit(1)
	}
}
