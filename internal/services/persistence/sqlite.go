package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
)

type wateringLogRecord struct {
	ID              string    `gorm:"primaryKey;size:64"`
	FieldID         string    `gorm:"index;not null"`
	StartTime       time.Time `gorm:"index;not null"`
	EndTime         time.Time `gorm:"not null"`
	Method          string    `gorm:"size:32"`
	DurationMinutes int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (wateringLogRecord) TableName() string { return "watering_logs" }

func toRecord(e entities.WateringLogEntry) wateringLogRecord {
	return wateringLogRecord{
		ID:              e.ID,
		FieldID:         e.FieldID,
		StartTime:       e.Start,
		EndTime:         e.End,
		Method:          string(e.Method),
		DurationMinutes: e.DurationMinutes,
	}
}

func (r wateringLogRecord) entry() entities.WateringLogEntry {
	return entities.WateringLogEntry{
		ID:              r.ID,
		FieldID:         r.FieldID,
		Start:           r.StartTime,
		End:             r.EndTime,
		Method:          entities.Method(r.Method),
		DurationMinutes: r.DurationMinutes,
	}
}

// SQLiteLogStore persists watering logs in a local SQLite file through gorm.
type SQLiteLogStore struct {
	db *gorm.DB
}

// OpenSQLiteLogStore opens (or creates) the database at path and migrates
// the watering_logs table. Use ":memory:" for a throwaway store.
func OpenSQLiteLogStore(path string) (*SQLiteLogStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.AutoMigrate(&wateringLogRecord{}); err != nil {
		return nil, fmt.Errorf("migrate watering_logs: %w", err)
	}
	return &SQLiteLogStore{db: db}, nil
}

func (s *SQLiteLogStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteLogStore) Append(ctx context.Context, e entities.WateringLogEntry) (entities.WateringLogEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	rec := toRecord(e)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return entities.WateringLogEntry{}, fmt.Errorf("insert watering log %s: %w", e.ID, err)
	}
	return rec.entry(), nil
}

func (s *SQLiteLogStore) ListByField(ctx context.Context, fieldID string) ([]entities.WateringLogEntry, error) {
	var recs []wateringLogRecord
	err := s.db.WithContext(ctx).
		Where("field_id = ?", fieldID).
		Order("start_time ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list watering logs for %s: %w", fieldID, err)
	}
	out := make([]entities.WateringLogEntry, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.entry())
	}
	return out, nil
}

func (s *SQLiteLogStore) CloseSession(ctx context.Context, id string, end time.Time) (entities.WateringLogEntry, error) {
	var closed entities.WateringLogEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec wateringLogRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("watering log %s not found", id)
			}
			return err
		}
		c, err := rec.entry().ClosedAt(end)
		if err != nil {
			return err
		}
		closed = c
		return tx.Model(&rec).Updates(map[string]interface{}{
			"end_time":         c.End,
			"duration_minutes": c.DurationMinutes,
		}).Error
	})
	if err != nil {
		return entities.WateringLogEntry{}, fmt.Errorf("close watering log %s: %w", id, err)
	}
	return closed, nil
}
