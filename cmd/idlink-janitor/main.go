package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/idlink/pkg/config"
	"github.com/platinummonkey/idlink/pkg/identity"
	"github.com/platinummonkey/idlink/pkg/janitor"
	"github.com/platinummonkey/idlink/pkg/linking"
	"github.com/platinummonkey/idlink/pkg/storage/sqlstore"
)

var (
	runOnce  = flag.Bool("run-once", false, "Run cleanup once and exit")
	schedule = flag.String("schedule", "", "Cron schedule, overrides IDLINK_JANITOR_SCHEDULE")
	verbose  = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if *schedule != "" {
		cfg.Janitor.Schedule = *schedule
	}

	store, err := sqlstore.Open(cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer store.Close()

	tokens, err := identity.NewTokenIssuer([]byte(cfg.Auth.TokenSecret))
	if err != nil {
		log.WithError(err).Fatal("Invalid token secret")
	}
	coord, err := linking.New(store, linking.Options{Policy: cfg.Policy.Linking(), Tokens: tokens})
	if err != nil {
		log.WithError(err).Fatal("Failed to create link coordinator")
	}

	j := janitor.New(store, coord, janitor.Config{
		Schedule:           cfg.Janitor.Schedule,
		StrandedAfter:      cfg.Janitor.StrandedAfter,
		RedirectRetention:  cfg.Janitor.RedirectRetention,
		MagicLinkRetention: cfg.Janitor.MagicLinkRetention,
	}, janitor.WithLogger(log))

	if *runOnce {
		report, err := j.RunOnce(context.Background())
		entry := log.WithFields(logrus.Fields{
			"expired_sessions": report.ExpiredSessions,
			"stranded_links":   report.StrandedLinks,
			"redirects":        report.Redirects,
			"magic_links":      report.MagicLinks,
		})
		if err != nil {
			entry.WithError(err).Fatal("Cleanup failed")
		}
		entry.Info("Cleanup completed")
		return
	}

	if err := j.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start janitor")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	<-j.Stop().Done()
	log.Info("Janitor stopped")
}
