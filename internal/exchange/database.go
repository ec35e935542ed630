package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ksred/klear-mf/internal/connector"
	"github.com/ksred/klear-mf/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateEntry(ctx context.Context, entry *BookEntry) error {
	return d.db.WithContext(ctx).Create(entry).Error
}

// FindEntry returns the latest submission matching a model order id or an
// exchange reference number.
func (d *Database) FindEntry(ctx context.Context, orderID string) (*BookEntry, error) {
	var entry BookEntry
	err := d.db.WithContext(ctx).
		Where("model_order_id = ? OR exchange_ref_no = ?", orderID, orderID).
		Order("id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("exchange order %s: %w", orderID, connector.ErrOrderNotFound)
		}
		return nil, err
	}
	return &entry, nil
}

func (d *Database) MarkRejected(ctx context.Context, orderID, code, message string) error {
	return d.db.WithContext(ctx).Model(&BookEntry{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":     types.StatusRejected,
			"error_code": code,
			"error":      message,
		}).Error
}

// MarkCancelled cancels the order unless it has reached a terminal status in
// the meantime. It reports whether a row was cancelled.
func (d *Database) MarkCancelled(ctx context.Context, orderID, reason string, at time.Time) (bool, error) {
	result := d.db.WithContext(ctx).Model(&BookEntry{}).
		Where("order_id = ? AND status NOT IN ?", orderID, []types.OrderStatus{types.StatusExecuted, types.StatusSettled}).
		Updates(map[string]interface{}{
			"status":        types.StatusCancelled,
			"cancel_reason": reason,
			"cancelled_at":  at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	result := d.db.WithContext(ctx).Model(&BookEntry{}).
		Where("order_id = ?", orderID).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("exchange order %s: %w", orderID, connector.ErrOrderNotFound)
	}
	return nil
}
