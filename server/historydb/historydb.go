// Package historydb stores the detection batches that users save
package historydb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

var ErrNotFound = errors.New("detection record not found")

type HistoryDB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create the history database, and run migrations
func Open(log logs.Log, cfg dbh.DBConfig) (*HistoryDB, error) {
	if cfg.Driver == dbh.DriverSqlite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0770); err != nil {
			return nil, fmt.Errorf("Failed to create database directory for '%v': %w", cfg.Database, err)
		}
	}
	log.Infof("Opening history DB (%v)", cfg.LogSafeDescription())
	db, err := dbh.OpenDB(log, cfg, Migrations(log, cfg.Driver), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open history database: %w", err)
	}
	return &HistoryDB{
		Log: log,
		DB:  db,
	}, nil
}

func (h *HistoryDB) Close() {
	if sqlDB, err := h.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Save a batch of detections that were captured at 'timestamp'
func (h *HistoryDB) Save(timestamp time.Time, detections []StoredDetection) (*DetectionRecord, error) {
	var dets dbh.JSONField[[]StoredDetection]
	dets.Data = detections
	rec := &DetectionRecord{
		Timestamp:  dbh.MakeIntTime(timestamp),
		SavedAt:    dbh.MakeIntTime(time.Now()),
		Detections: &dets,
	}
	if err := h.DB.Create(rec).Error; err != nil {
		return nil, fmt.Errorf("Failed to save detections: %w", err)
	}
	return rec, nil
}

// SetSnapshot records the storage key of the annotated frame for a record
func (h *HistoryDB) SetSnapshot(id int64, key string) error {
	res := h.DB.Model(&DetectionRecord{}).Where("id = ?", id).Update("snapshot", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the most recent records, newest first.
// limit is clamped to [1, MaxListLimit], and 0 means DefaultListLimit.
func (h *HistoryDB) List(limit int) ([]*DetectionRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	limit = min(limit, MaxListLimit)
	records := []*DetectionRecord{}
	if err := h.DB.Order("timestamp DESC, id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (h *HistoryDB) Get(id int64) (*DetectionRecord, error) {
	rec := &DetectionRecord{}
	if err := h.DB.First(rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (h *HistoryDB) Count() (int64, error) {
	n := int64(0)
	err := h.DB.Model(&DetectionRecord{}).Count(&n).Error
	return n, err
}
