package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/ini.v1"

	"sipphone/session"
	"sipphone/sipua"
)

func settingsPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return "settings.ini"
}

func run(ctx context.Context, settings *Settings) error {
	host, err := detectHostIP()
	if err != nil {
		if settings.PublicAddress() == "" {
			return fmt.Errorf("detect host address: %w", err)
		}
		coreLog.Warnf("failed to detect host address: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	history := NewMissedCallLog(settings.HistoryFile(), coreLog)
	defer history.Close()
	platform := newDevicePlatform(settings, coreLog)

	ua := sipua.New(settings.UserAgentConfig(host), sipLog)
	sc := session.New(session.Options{
		Engine:     ua,
		Config:     settings.SessionConfig(),
		Platform:   platform.Platform(history),
		Registerer: reg,
		Log:        sessionLog,
	})
	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer func() {
		if err := sc.Stop(); err != nil {
			coreLog.Errorf("failed to stop session: %v", err)
		}
	}()

	id := settings.Identity()
	if id.Username == "" || id.Domain == "" {
		coreLog.Warn("no account configured, only direct calls are possible")
	} else {
		sc.Register(id)
	}

	gw := NewGateway(sc, platform, history, reg, gatewayLog)
	return gw.Serve(ctx, settings.HTTPListen())
}

func main() {
	cfg, err := ini.Load(settingsPath())
	if err != nil {
		fmt.Printf("failed to load settings: %v\n", err)
		return
	}

	settings, err := LoadSettings(cfg)
	if err != nil {
		fmt.Printf("failed to parse settings: %v\n", err)
		return
	}

	if err := initLogging(cfg); err != nil {
		fmt.Printf("failed to init logging: %v\n", err)
		return
	}
	defer closeLogging()
	coreLog.Info("settings loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings); err != nil {
		coreLog.Errorf("sipphone stopped: %v", err)
		stop()
		closeLogging()
		os.Exit(1)
	}
	coreLog.Info("performing a graceful shutdown...")
}
