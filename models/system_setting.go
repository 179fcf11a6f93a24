package models

import "time"

// SystemSetting is one row of the runtime key/value settings table.
type SystemSetting struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// All returns every model for auto migration.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Thread{},
		&Reply{},
		&Notification{},
		&ModerationLog{},
		&SystemSetting{},
	}
}
