// The retention worker prunes expired audit events on a schedule,
// archiving them to object storage first when archiving is enabled. It
// runs as its own process so a slow sweep never competes with request
// traffic, and a --run-once mode serves manual sweeps and backfills.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bulkheadio/bulkhead/pkg/audit"
	"github.com/bulkheadio/bulkhead/pkg/config"
)

var (
	schedule      = flag.String("schedule", "30 2 * * *", "Cron schedule for retention sweeps (default: 02:30 UTC)")
	runOnce       = flag.Bool("run-once", false, "Run one sweep and exit")
	retentionDays = flag.Int("retention-days", 0, "Override the configured retention window in days")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	days := cfg.Audit.RetentionDays
	if *retentionDays > 0 {
		days = *retentionDays
	}
	policy := audit.RetentionPolicy{
		RetentionDays:  days,
		ArchiveEnabled: cfg.Audit.ArchiveEnabled,
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to initialize audit store: %v", err)
	}
	defer dbLogger.Close()
	store := audit.NewDBStore(dbLogger)

	// Sweep events (audit.archive, audit.purge) go back into the trail
	// itself, so pruning always leaves a record that pruning happened.
	emitter := audit.NewEmitter(dbLogger, cfg.Audit.WriteTimeout, nil, nil)

	var archiver audit.EventArchiver
	if policy.ArchiveEnabled {
		s3Archiver, err := audit.NewArchiver(context.Background(), audit.ArchiverConfig{
			Bucket:       cfg.Audit.ArchiveBucket,
			Prefix:       cfg.Audit.ArchivePrefix,
			Region:       cfg.Audit.S3Region,
			Endpoint:     cfg.Audit.S3Endpoint,
			AccessKey:    cfg.Audit.S3AccessKey,
			SecretKey:    cfg.Audit.S3SecretKey,
			UsePathStyle: cfg.Audit.S3UsePathStyle,
		})
		if err != nil {
			log.Fatalf("Failed to initialize archiver: %v", err)
		}
		archiver = s3Archiver
	}

	retainer := audit.NewRetainer(store, archiver, emitter, nil)

	if *runOnce {
		if err := sweep(retainer, policy); err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*schedule, func() {
		if err := sweep(retainer, policy); err != nil {
			log.WithError(err).Error("Sweep failed")
		}
	})
	if err != nil {
		log.Fatalf("Failed to schedule sweep: %v", err)
	}

	c.Start()
	log.WithFields(log.Fields{
		"schedule":       *schedule,
		"retention_days": policy.RetentionDays,
		"archive":        policy.ArchiveEnabled,
	}).Info("Retention worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutting down gracefully...")

	<-c.Stop().Done()
	log.Info("Retention worker stopped")
}

func sweep(retainer *audit.Retainer, policy audit.RetentionPolicy) error {
	log.WithField("retention_days", policy.RetentionDays).Info("Starting retention sweep")

	result, err := retainer.Sweep(context.Background(), policy)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"archived": result.Archived,
		"deleted":  result.Deleted,
		"cutoff":   result.Cutoff.Format("2006-01-02"),
	}).Info("Retention sweep complete")
	return nil
}
