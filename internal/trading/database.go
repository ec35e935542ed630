package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/klear-mf/internal/types"
)

const idempotencyTTL = 24 * time.Hour

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetSubmission returns nil when no submission has the id.
func (d *Database) GetSubmission(ctx context.Context, orderID string) (*Submission, error) {
	var s Submission
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (d *Database) GetSubmissionForDistributor(ctx context.Context, orderID, distributorID string) (*Submission, error) {
	var s Submission
	err := d.db.WithContext(ctx).
		Where("order_id = ? AND distributor_id = ?", orderID, distributorID).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (d *Database) UpdateStatus(ctx context.Context, orderID string, status types.OrderStatus) error {
	return d.db.WithContext(ctx).Model(&Submission{}).
		Where("order_id = ?", orderID).
		Update("status", status).Error
}

// ReserveIdempotencyKey claims key for distributorID before the order is
// dispatched. An expired record for the key is replaced. When another live
// record holds the key it is returned with reserved false.
func (d *Database) ReserveIdempotencyKey(ctx context.Context, key, distributorID string, now time.Time) (*IdempotencyRecord, bool, error) {
	var (
		existing *IdempotencyRecord
		reserved bool
	)
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current IdempotencyRecord
		err := tx.Where("idempotency_key = ?", key).First(&current).Error
		switch {
		case err == nil && current.ExpiresAt.After(now):
			existing = &current
			return nil
		case err == nil:
			if err := tx.Unscoped().Delete(&IdempotencyRecord{}, current.ID).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		record := IdempotencyRecord{
			IdempotencyKey: key,
			DistributorID:  distributorID,
			ResourceType:   "submission",
			ExpiresAt:      now.Add(idempotencyTTL),
		}
		result := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
			Create(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			if err := tx.Where("idempotency_key = ?", key).First(&current).Error; err != nil {
				return err
			}
			existing = &current
			return nil
		}
		reserved = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return existing, reserved, nil
}

// ReleaseIdempotencyKey drops a reservation that never got a submission.
func (d *Database) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	return d.db.WithContext(ctx).Unscoped().
		Where("idempotency_key = ? AND resource_id = ?", key, "").
		Delete(&IdempotencyRecord{}).Error
}

// CreateSubmissionWithIdempotency stores the submission and points the
// reserved idempotency record at it in one transaction.
func (d *Database) CreateSubmissionWithIdempotency(ctx context.Context, s *Submission, idempotencyKey string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		result := tx.Model(&IdempotencyRecord{}).
			Where("idempotency_key = ? AND resource_id = ?", idempotencyKey, "").
			Update("resource_id", s.OrderID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("idempotency key %s is not reserved", idempotencyKey)
		}
		return nil
	})
}

// GetIdempotencyRecord returns nil when the key is unknown.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
