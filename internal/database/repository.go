package database

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/analytics-dashboard/internal/models"
	"gorm.io/gorm"
)

// Repository persists the dashboard's audit data.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) RecordAccess(ctx context.Context, entry *models.AccessLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to save access log: %w", err)
	}
	return nil
}

// PruneAccessLogs deletes access log rows older than before and returns how
// many were removed.
func (r *Repository) PruneAccessLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AccessLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune access logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *Repository) SaveExport(ctx context.Context, export *models.SnapshotExport) error {
	if err := r.db.WithContext(ctx).Save(export).Error; err != nil {
		return fmt.Errorf("failed to save snapshot export: %w", err)
	}
	return nil
}

func (r *Repository) RecentExports(ctx context.Context, endpoint string, limit int) ([]models.SnapshotExport, error) {
	var exports []models.SnapshotExport
	if err := r.db.WithContext(ctx).
		Where("endpoint = ?", endpoint).
		Order("exported_at DESC").
		Limit(limit).
		Find(&exports).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshot exports: %w", err)
	}
	return exports, nil
}
