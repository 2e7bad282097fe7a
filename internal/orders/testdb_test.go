package orders

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ordersSchema mirrors the goose migration's tables and constraints in sqlite.
var ordersSchema = []string{
	`CREATE TABLE checkouts (
  id TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL,
  registry_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL,
  payment_reference TEXT NOT NULL,
  created_at DATETIME,
  CONSTRAINT ux_checkouts_idempotency_key UNIQUE (idempotency_key)
);`,
	`CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  checkout_id TEXT NOT NULL REFERENCES checkouts(id) ON DELETE CASCADE,
  idempotency_key TEXT NOT NULL,
  registry_id TEXT NOT NULL,
  group_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  shipping_address TEXT NOT NULL,
  items TEXT NOT NULL,
  selected_rate TEXT,
  rates_estimated INTEGER NOT NULL DEFAULT 0,
  tracking_number TEXT,
  label_id TEXT,
  target_delivery_date DATETIME,
  ship_no_earlier_than DATETIME,
  synchronized INTEGER NOT NULL DEFAULT 0,
  special_instructions TEXT,
  buyer_email TEXT NOT NULL,
  payment_reference TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT ux_orders_checkout_group UNIQUE (checkout_id, group_id),
  CHECK (status IN ('pending', 'confirmed', 'failed')),
  CHECK (position >= 0)
);`,
	`CREATE INDEX idx_orders_registry_id ON orders (registry_id);`,
	`CREATE INDEX idx_orders_checkout_position ON orders (checkout_id, position);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
}

// setupOrdersTestDB opens a file-backed sqlite database so concurrent
// transactions serialize on the write lock the way they would on Postgres.
func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "orders.db") + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)

	for _, stmt := range ordersSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
