package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"picbot/internal/app"
)

func main() {
	var (
		cfgPath  string
		picsDir  string
		logLevel string
		logFile  string
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.StringVar(&picsDir, "pictures", "./pictures", "directory for downloaded pictures")
	flag.StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	flag.StringVar(&logFile, "log-file", "", "optional JSON log file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(app.Options{
		ConfigPath:  cfgPath,
		PicturesDir: picsDir,
		LogLevel:    logLevel,
		LogFile:     logFile,
	})
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}
	// No-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
