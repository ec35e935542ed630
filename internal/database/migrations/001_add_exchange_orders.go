package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/exchange"
)

// AddExchangeOrders creates the exchange order book and its lookup indexes.
func AddExchangeOrders(db *gorm.DB) error {
	if err := db.AutoMigrate(&exchange.BookEntry{}); err != nil {
		return err
	}

	return createIndexes(db,
		`CREATE INDEX IF NOT EXISTS idx_exchange_orders_status
		 ON exchange_orders(status)`,
		// Status reports by client over a submission window
		`CREATE INDEX IF NOT EXISTS idx_exchange_orders_client_submitted
		 ON exchange_orders(client_id, submitted_at)`,
	)
}

func createIndexes(db *gorm.DB, statements ...string) error {
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
