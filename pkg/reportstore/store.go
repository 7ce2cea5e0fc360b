// Package reportstore persists audit artifacts: raw report files on disk and
// extracted metric records in the reports table.
package reportstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/errkind"
	"github.com/ethpandaops/pageaudit/pkg/fsutil"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MaxQueryLimit bounds every metric record query.
const MaxQueryLimit = 10000

var (
	// ErrReportNotFound is returned when a raw report file does not exist.
	ErrReportNotFound = errors.New("report not found")

	// ErrDuplicateRecord is returned when a cell was already recorded for a run.
	ErrDuplicateRecord = errors.New("record already exists for run, page and mode")

	// ErrNotStarted is returned when the store is used before Start.
	ErrNotStarted = errors.New("report store not started")
)

// Store persists raw reports and metric records.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// WriteRawReport stores content verbatim under the run directory and
	// returns the written path. An existing file is replaced.
	WriteRawReport(ctx context.Context, runID audit.RunID, filename string, content []byte) (string, error)

	// ReadRawReport loads a previously written raw report.
	ReadRawReport(ctx context.Context, runID audit.RunID, filename string) ([]byte, error)

	// RunDir returns the artifact directory of a run.
	RunDir(runID audit.RunID) string

	// InsertMetricRecord appends one metric record.
	InsertMetricRecord(ctx context.Context, rec *audit.Record) error

	// QueryMetricRecords returns up to limit records in insertion order.
	// A limit <= 0 or above MaxQueryLimit means MaxQueryLimit.
	QueryMetricRecords(ctx context.Context, limit int) ([]audit.Record, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log   logrus.FieldLogger
	cfg   *config.StorageConfig
	owner *fsutil.Owner

	// mu guards db. Inserts and Stop hold it exclusively, which also keeps
	// a single writer.
	mu sync.RWMutex
	db *gorm.DB
}

// NewStore creates a Store for the configured reports directory and
// database. owner may be nil.
func NewStore(log logrus.FieldLogger, cfg *config.StorageConfig, owner *fsutil.Owner) Store {
	return &store{
		log:   log.WithField("component", "reportstore"),
		cfg:   cfg,
		owner: owner,
	}
}

// Start opens the database connection and migrates the reports table.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	switch s.cfg.Database.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.Database.SQLite.Path)
	case "postgres":
		pg := s.cfg.Database.Postgres
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			pg.Host, pg.Port, pg.User, pg.Password, pg.Database, pg.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return errkind.New(errkind.Storage, "open database",
			fmt.Errorf("unsupported database driver: %s", s.cfg.Database.Driver))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return errkind.New(errkind.Storage, "open database", err)
	}

	if s.cfg.Database.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return errkind.New(errkind.Storage, "open database", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.WithContext(ctx).AutoMigrate(&reportRow{}); err != nil {
		return errkind.New(errkind.Storage, "migrate reports table", err)
	}

	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"driver":      s.cfg.Database.Driver,
		"reports_dir": s.cfg.ReportsDir,
	}).Info("Report store connected")

	return nil
}

// Stop closes the database connection.
func (s *store) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	s.db = nil

	return sqlDB.Close()
}

// InsertMetricRecord inserts a record with a parameterized statement.
func (s *store) InsertMetricRecord(ctx context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errkind.New(errkind.Storage, "insert metric record", ErrNotStarted)
	}

	row := rowFromRecord(rec)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// NULL modes never collide in a unique index, so legacy cells are
		// checked explicitly.
		var count int64

		q := tx.Model(&reportRow{}).Where(`"runId" = ? AND "name" = ?`, row.RunID, row.Name)
		if row.Mode.Valid {
			q = q.Where(`"mode" = ?`, row.Mode.String)
		} else {
			q = q.Where(`"mode" IS NULL`)
		}

		if err := q.Count(&count).Error; err != nil {
			return errkind.New(errkind.Storage, "insert metric record", err)
		}

		if count > 0 {
			return errkind.New(errkind.Storage, "insert metric record",
				fmt.Errorf("%w: run %d page %q mode %q", ErrDuplicateRecord, row.RunID, row.Name, row.Mode.String))
		}

		if err := tx.Create(row).Error; err != nil {
			return errkind.New(errkind.Storage, "insert metric record", err)
		}

		return nil
	})
}

// QueryMetricRecords returns records ordered by insertion.
func (s *store) QueryMetricRecords(ctx context.Context, limit int) ([]audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errkind.New(errkind.Storage, "query metric records", ErrNotStarted)
	}

	if limit <= 0 || limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	var rows []reportRow
	if err := s.db.WithContext(ctx).
		Order("id").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errkind.New(errkind.Storage, "query metric records", err)
	}

	records := make([]audit.Record, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].record())
	}

	return records, nil
}
