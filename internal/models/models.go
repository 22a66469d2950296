package models

import (
	"time"
)

// SnapshotExport records one cache snapshot uploaded to object storage.
type SnapshotExport struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	Endpoint      string    `gorm:"type:varchar(128);not null;index"`
	CacheKey      string    `gorm:"type:varchar(512);not null"`
	Bucket        string    `gorm:"type:varchar(255);not null"`
	ObjectKey     string    `gorm:"type:varchar(1024);not null"`
	Location      string    `gorm:"type:text"`
	RowCount      int       `gorm:"not null;default:0"`
	SizeBytes     int64     `gorm:"not null;default:0"`
	LastFetchedAt time.Time `gorm:"index"`
	ExportedAt    time.Time `gorm:"index;not null"`
}

func (SnapshotExport) TableName() string {
	return "snapshot_exports"
}
