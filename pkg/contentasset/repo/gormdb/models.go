package gormdb

import (
	"time"

	"gorm.io/datatypes"
)

// EntityModel is the row behind a contentasset.Entity
type EntityModel struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	EntityType string `gorm:"index:idx_entity_list,priority:1;type:varchar(64);not null"`

	// Content holds slots, galleries, body and fields as JSON
	Content datatypes.JSON

	// Version is bumped by every write and compared by Update (CAS)
	Version int64 `gorm:"not null;default:1"`

	CreatedAt time.Time  `gorm:"index:idx_entity_list,priority:2"`
	UpdatedAt time.Time
	DeletedAt *time.Time `gorm:"index"`
}

// TableName pins the table name
func (EntityModel) TableName() string {
	return "content_entities"
}

// AssetRefModel indexes which entity holds which asset reference
type AssetRefModel struct {
	EntityID  string `gorm:"primaryKey;type:varchar(36)"`
	Reference string `gorm:"primaryKey;type:varchar(1024);index"`
}

func (AssetRefModel) TableName() string {
	return "content_asset_refs"
}
