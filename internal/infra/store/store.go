// Package store persists personas, their cached first picks, recent picks and
// telemetry records with gorm.
package store

import (
	"time"

	"github.com/cockroachdb/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RecentPick is one song a persona picked.
type RecentPick struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	PersonaID  string    `gorm:"size:64;index:idx_persona_created"`
	Artist     string    `gorm:"size:255"`
	Title      string    `gorm:"size:255"`
	ArtworkURL string    `gorm:"size:512"`
	CreatedAt  time.Time `gorm:"index:idx_persona_created"`
}

// PersonaRecord is a persona seeded from configuration.
type PersonaRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:128;not null"`
	StyleGuide  string `gorm:"type:text"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	FirstSelection *FirstSelectionRecord `gorm:"foreignKey:PersonaID"`
}

// TableName overrides the default pluralization.
func (PersonaRecord) TableName() string {
	return "personas"
}

// FirstSelectionRecord is the single cached opening pick of a persona.
type FirstSelectionRecord struct {
	PersonaID string `gorm:"primaryKey;size:64"`
	Artist    string `gorm:"size:255"`
	Title     string `gorm:"size:255"`
	Rationale string `gorm:"type:text"`
	Track     string `gorm:"type:text"` // JSON encoded track, empty if unresolved
	CreatedAt time.Time
}

// TableName overrides the default pluralization.
func (FirstSelectionRecord) TableName() string {
	return "first_selections"
}

// ErrorLog is a failed pipeline stage.
type ErrorLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	PersonaID string `gorm:"size:64;index"`
	Stage     string `gorm:"size:32"`
	Message   string `gorm:"type:text"`
	CreatedAt time.Time
}

// DiagnosticLog is the JSON diagnostic of one pipeline run.
type DiagnosticLog struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	PersonaID string `gorm:"size:64;index"`
	Outcome   string `gorm:"size:32"`
	Record    string `gorm:"type:mediumtext"`
	CreatedAt time.Time
}

// AllModels returns the models migrated by Open.
func AllModels() []any {
	return []any{
		&RecentPick{},
		&PersonaRecord{},
		&FirstSelectionRecord{},
		&ErrorLog{},
		&DiagnosticLog{},
	}
}

// Open connects to the database and migrates all tables.
// driver is "sqlite" or "mysql".
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s database", driver)
	}

	if driver != "mysql" {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get sql.DB")
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, errors.Wrap(err, "failed to migrate database")
	}
	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get sql.DB")
	}
	return sqlDB.Close()
}
