// Package store holds the persistence backends: finished reports in a
// local SQLite database and, optionally, job state in Redis so several
// processes can serve the same dashboard.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/aircode610/ShipSure/internal/analysis"
	"github.com/aircode610/ShipSure/internal/models"
)

// ReportRecord is the persisted form of one job's report document.
type ReportRecord struct {
	JobID      string    `gorm:"primaryKey" json:"job_id"`
	Repository string    `json:"repository"`
	Document   []byte    `json:"document"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for the ReportRecord model.
func (ReportRecord) TableName() string {
	return "reports"
}

// SQLiteReportStore persists reports in a local SQLite database.
type SQLiteReportStore struct {
	db *gorm.DB
}

// OpenSQLiteReportStore opens (and migrates) the reports database.
func OpenSQLiteReportStore(path string) (*SQLiteReportStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open reports database: %w", err)
	}
	if err = db.AutoMigrate(&ReportRecord{}); err != nil {
		return nil, fmt.Errorf("migrate reports database: %w", err)
	}
	return &SQLiteReportStore{db: db}, nil
}

// Save writes the report document for a job, replacing any previous one.
func (s *SQLiteReportStore) Save(ctx context.Context, jobID string, report *models.Report) error {
	document, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	record := &ReportRecord{
		JobID:      jobID,
		Repository: report.Repository,
		Document:   document,
		CreatedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).Save(record).Error
}

// Get loads the report document for a job.
func (s *SQLiteReportStore) Get(ctx context.Context, jobID string) (*models.Report, error) {
	var record ReportRecord
	if err := s.db.WithContext(ctx).First(&record, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, analysis.ErrJobNotFound
		}
		return nil, err
	}

	var report models.Report
	if err := json.Unmarshal(record.Document, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &report, nil
}

// MemoryReportStore keeps reports in process memory, used when no
// database path is configured and in tests.
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[string]*models.Report
}

// NewMemoryReportStore creates an empty in-memory report store.
func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[string]*models.Report)}
}

// Save stores the report for a job.
func (s *MemoryReportStore) Save(_ context.Context, jobID string, report *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[jobID] = report
	return nil
}

// Get returns the stored report, or ErrJobNotFound.
func (s *MemoryReportStore) Get(_ context.Context, jobID string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[jobID]
	if !ok {
		return nil, analysis.ErrJobNotFound
	}
	return report, nil
}
