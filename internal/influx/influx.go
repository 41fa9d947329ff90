// Package influx writes per-batch combat stats to InfluxDB, falling back to
// a gzipped line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
)

// Measurement names.
const (
	MeasurementAction  = "combat_action"
	MeasurementUpCheck = "up_check"
)

const retention = 60 * 60 * 24 * 90 // 90 days

// Config holds connection settings.
type Config struct {
	URL        string
	Token      string
	Org        string
	Bucket     string
	BackupPath string // gzip line-protocol file used when the server is down
}

// Manager handles the InfluxDB connection and writes.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	client influxdb2.Client
	writer influxdb2_api.WriteAPI

	mu         sync.Mutex
	backupFile *os.File
	backup     *gzip.Writer
	valid      bool
}

// NewManager creates a new InfluxDB manager. Call Connect before writing.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger.With("component", "influx")}
}

// Connect pings the server and prepares the bucket. When the server cannot
// be reached and a backup path is configured, points go to the backup file.
func (m *Manager) Connect(ctx context.Context) error {
	m.client = influxdb2.NewClientWithOptions(
		m.cfg.URL,
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	running, err := m.client.Ping(ctx)
	if err != nil || !running {
		m.client.Close()
		m.client = nil
		if m.cfg.BackupPath == "" {
			return fmt.Errorf("influxdb unreachable at %s: %w", m.cfg.URL, errors.Join(err, errors.New("no backup path configured")))
		}
		m.logger.Warn("Failed to reach InfluxDB, writing to backup file", "url", m.cfg.URL, "backupPath", m.cfg.BackupPath, "error", err)
		return m.openBackup()
	}

	if err := m.ensureBucket(ctx); err != nil {
		return err
	}

	m.writer = m.client.WriteAPI(m.cfg.Org, m.cfg.Bucket)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			m.logger.Error("Error sending data to InfluxDB", "bucket", m.cfg.Bucket, "error", writeErr)
		}
	}(m.writer.Errors())

	m.mu.Lock()
	m.valid = true
	m.mu.Unlock()
	m.logger.Info("InfluxDB client initialized", "url", m.cfg.URL, "bucket", m.cfg.Bucket)
	return nil
}

func (m *Manager) openBackup() error {
	file, err := os.OpenFile(m.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.mu.Lock()
	m.backupFile = file
	m.backup = gzip.NewWriter(file)
	m.mu.Unlock()
	return nil
}

func (m *Manager) ensureBucket(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.cfg.Org)
	if err != nil {
		m.logger.Info("Organization not found, creating", "org", m.cfg.Org)
		org, err = orgs.CreateOrganizationWithName(ctx, m.cfg.Org)
		if err != nil {
			return fmt.Errorf("create organization %s: %w", m.cfg.Org, err)
		}
	}

	buckets := m.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}
	m.logger.Info("Bucket not found, creating", "bucket", m.cfg.Bucket)
	rule := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retention,
	})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", m.cfg.Bucket, err)
	}
	return nil
}

// WritePoint writes a point to InfluxDB or the backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid {
		m.writer.WritePoint(point)
		return nil
	}
	if m.backup == nil {
		return errors.New("influxdb client not initialized and backup writer not available")
	}
	line := influxdb2_write.PointToLineProtocol(point, time.Nanosecond)
	if _, err := m.backup.Write([]byte(line)); err != nil {
		return fmt.Errorf("error writing to influxdb backup file: %w", err)
	}
	return nil
}

// RecordAction stores one committed combat action batch.
func (m *Manager) RecordAction(_ context.Context, fightID uint, applied, skipped int, took time.Duration) {
	if err := m.WritePoint(ActionPoint(fightID, applied, skipped, took, time.Now())); err != nil {
		m.logger.Warn("Dropping combat action point", "fightID", fightID, "error", err)
	}
}

// RecordUpCheck stores one up-check result.
func (m *Manager) RecordUpCheck(_ context.Context, fightID, characterID uint, success bool) {
	if err := m.WritePoint(UpCheckPoint(fightID, characterID, success, time.Now())); err != nil {
		m.logger.Warn("Dropping up-check point", "fightID", fightID, "error", err)
	}
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writer != nil {
		m.writer.Flush()
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.valid = false

	var errs []error
	if m.backup != nil {
		errs = append(errs, m.backup.Close())
		errs = append(errs, m.backupFile.Close())
		m.backup = nil
		m.backupFile = nil
	}
	return errors.Join(errs...)
}

// ActionPoint builds the point for a combat action batch.
func ActionPoint(fightID uint, applied, skipped int, took time.Duration, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementAction,
		map[string]string{"fight_id": strconv.FormatUint(uint64(fightID), 10)},
		map[string]any{
			"applied":     applied,
			"skipped":     skipped,
			"duration_ms": float64(took) / float64(time.Millisecond),
		},
		at,
	)
}

// UpCheckPoint builds the point for an up-check.
func UpCheckPoint(fightID, characterID uint, success bool, at time.Time) *influxdb2_write.Point {
	return influxdb2.NewPoint(
		MeasurementUpCheck,
		map[string]string{
			"fight_id":     strconv.FormatUint(uint64(fightID), 10),
			"character_id": strconv.FormatUint(uint64(characterID), 10),
		},
		map[string]any{"success": success},
		at,
	)
}
