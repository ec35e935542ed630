package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/routing"
)

// AddRoutingTables creates the rule store and the decision log.
func AddRoutingTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&routing.RuleRecord{}, &routing.SettingRecord{}, &routing.DecisionRecord{}); err != nil {
		return err
	}

	return createIndexes(db,
		`CREATE INDEX IF NOT EXISTS idx_routing_rules_position
		 ON routing_rules(position)`,
		`CREATE INDEX IF NOT EXISTS idx_routing_decisions_outcome_created
		 ON routing_decisions(outcome, created_at)`,
	)
}
