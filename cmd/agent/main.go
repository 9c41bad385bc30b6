package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"fleetsync/internal/config"
	"fleetsync/internal/database"
	"fleetsync/internal/driver"
	"fleetsync/internal/events"
	"fleetsync/internal/localstore"
	"fleetsync/internal/logger"
	"fleetsync/internal/syncagent"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("fleetsync-agent", pflag.ContinueOnError)
	config.RegisterAgentFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	path, _ := fs.GetString("config")
	cfg, err := config.LoadAgent(path)
	if err != nil {
		return err
	}
	if err := cfg.Override(fs); err != nil {
		return err
	}
	if cfg.Role == "driver" && cfg.ActorID == "" {
		return fmt.Errorf("a driver agent needs --actor")
	}

	log := logger.New(cfg.LogLevel, "text", os.Stderr)
	log.WithFields(logrus.Fields{
		"server": cfg.ServerURL,
		"role":   cfg.Role,
		"actor":  cfg.ActorID,
	}).Info("🚀 FleetSync agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if database.DriverFor(cfg.StoreDSN) == "sqlite" && cfg.StoreDSN != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.StoreDSN), 0o755); err != nil {
			return fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := database.Connect(cfg.StoreDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}

	store := localstore.New(database.NewRecords(db), cfg.StorePrefix, log)
	if err := store.Load(ctx); err != nil {
		return err
	}

	client, err := syncagent.NewClient(cfg.ServerURL, cfg.Token, cfg.RequestTimeout)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	subscribeLogging(bus, log)
	reportRecoveries(ctx, bus, client, cfg.ActorID, log)

	agent := syncagent.New(store, client, bus, log, syncagent.Options{
		ActiveInterval:  cfg.ActiveInterval,
		IdleInterval:    cfg.IdleInterval,
		ActiveWindow:    cfg.ActiveWindow,
		RequestTimeout:  cfg.RequestTimeout,
		MaxRetries:      cfg.MaxRetries,
		MaxSkippedTicks: cfg.MaxSkippedTicks,
	})
	if err := agent.Load(ctx); err != nil {
		return err
	}
	log.WithField("pending", agent.Queue().Len()).Info("✅ Local store loaded")

	nudges := syncagent.NewNudgeListener(client.BaseURL(), client.Token(), agent, store, bus, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agent.Run(gctx) })
	g.Go(func() error { return nudges.Run(gctx) })

	if cfg.Role == "manager" {
		poller := syncagent.NewLocationPoller(client, store, bus, log, cfg.LocationsInterval, cfg.RequestTimeout)
		g.Go(func() error { return poller.Run(gctx) })
	} else {
		ctrl := driver.New(cfg.ActorID, store, agent, bus, log)
		sh := &shell{ctrl: ctrl, agent: agent, store: store, out: os.Stdout}
		g.Go(func() error {
			err := sh.Run(gctx, os.Stdin)
			// End of input ends the session
			stop()
			return err
		})
	}

	err = g.Wait()
	log.Info("👋 FleetSync agent stopped")
	return err
}

// subscribeLogging turns bus events into log lines for a headless agent
func subscribeLogging(bus *events.Bus, log logrus.FieldLogger) {
	events.On(bus, func(e events.HealthChanged) {
		log.WithFields(logrus.Fields{"health": e.Health, "latency": e.Latency.String()}).Info("📶 Connection health changed")
	})
	events.On(bus, func(e events.OfflineWarning) {
		log.WithFields(logrus.Fields{"failures": e.Failures, "error": e.Err}).Warn("📴 Operating offline")
	})
	events.On(bus, func(e events.AlertRaised) {
		log.WithFields(logrus.Fields{"alert_id": e.Alert.ID, "priority": e.Alert.Priority}).Warn("🚨 " + e.Alert.Message)
	})
	events.On(bus, func(e events.Notice) {
		log.Info("💬 " + e.Message)
	})
	events.On(bus, func(e events.DataChanged) {
		log.WithFields(logrus.Fields{"kinds": e.Kinds, "source": e.Source}).Debug("🔄 Data changed")
	})
}
