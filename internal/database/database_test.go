package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_MigratesEveryTable(t *testing.T) {
	db, err := NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})

	for _, table := range []string{
		"exchange_orders",
		"routing_rules",
		"routing_settings",
		"routing_decisions",
		"products",
		"order_submissions",
		"idempotency_records",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasIndex("exchange_orders", "idx_exchange_orders_status"))

	require.NoError(t, Migrate(db), "migrations are repeatable")
}
