package routing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/klear-mf/internal/types"
)

const (
	settingDefaultConnector = "default_connector"
	settingRevision         = "revision"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateDecision(ctx context.Context, rec *DecisionRecord) error {
	return d.db.WithContext(ctx).Create(rec).Error
}

func (d *Database) GetDecisionsByTraceID(ctx context.Context, traceID string) ([]DecisionRecord, error) {
	var records []DecisionRecord
	if err := d.db.WithContext(ctx).Where("trace_id = ?", traceID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SaveConfig replaces the stored rules and default connector in a single
// transaction and bumps the stored revision.
func (d *Database) SaveConfig(ctx context.Context, cfg *Config) (int64, error) {
	var revision int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Unscoped().Delete(&RuleRecord{}).Error; err != nil {
			return err
		}
		for i, r := range cfg.Rules {
			rec := RuleRecord{
				Position:           i,
				Priority:           r.Priority,
				Scheme:             r.Scheme,
				TransactionType:    r.TransactionType,
				PreferredConnector: r.PreferredConnector,
				FallbackConnector:  r.FallbackConnector,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
		}

		current, err := readRevision(tx)
		if err != nil {
			return err
		}
		revision = current + 1

		now := time.Now()
		settings := []SettingRecord{
			{Name: settingDefaultConnector, Value: string(cfg.DefaultConnector), UpdatedAt: now},
			{Name: settingRevision, Value: strconv.FormatInt(revision, 10), UpdatedAt: now},
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&settings).Error
	})
	if err != nil {
		return 0, err
	}
	return revision, nil
}

// LoadConfig returns the stored config and its revision. A revision of 0
// means nothing has been stored yet.
func (d *Database) LoadConfig(ctx context.Context) (*Config, int64, error) {
	tx := d.db.WithContext(ctx)

	revision, err := readRevision(tx)
	if err != nil || revision == 0 {
		return nil, 0, err
	}

	var records []RuleRecord
	if err := tx.Order("position ASC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	rules := make([]Rule, 0, len(records))
	for _, rec := range records {
		rules = append(rules, Rule{
			Priority:           rec.Priority,
			Scheme:             rec.Scheme,
			TransactionType:    rec.TransactionType,
			PreferredConnector: rec.PreferredConnector,
			FallbackConnector:  rec.FallbackConnector,
		})
	}

	var def SettingRecord
	if err := tx.Where("name = ?", settingDefaultConnector).First(&def).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, 0, err
	}

	cfg, err := NewConfig(rules, types.ConnectorType(def.Value))
	if err != nil {
		return nil, 0, err
	}
	return cfg, revision, nil
}

func readRevision(tx *gorm.DB) (int64, error) {
	var rec SettingRecord
	if err := tx.Where("name = ?", settingRevision).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(rec.Value, 10, 64)
}
