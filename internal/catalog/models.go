package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ksred/klear-mf/internal/types"
)

// ProductRecord is the stored form of types.Product. Amounts are kept as
// text so decimal values round-trip exactly.
type ProductRecord struct {
	ID            uint                `gorm:"primaryKey"`
	ProductID     string              `gorm:"uniqueIndex;not null"`
	SchemeName    string              `gorm:"index;not null"`
	MinInvestment decimal.Decimal     `gorm:"type:varchar(32);not null"`
	MaxInvestment decimal.NullDecimal `gorm:"type:varchar(32)"`
	MinRedemption decimal.NullDecimal `gorm:"type:varchar(32)"`
	MaxRedemption decimal.NullDecimal `gorm:"type:varchar(32)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (ProductRecord) TableName() string {
	return "products"
}

func (r *ProductRecord) toProduct() *types.Product {
	return &types.Product{
		ProductID:     r.ProductID,
		SchemeName:    r.SchemeName,
		MinInvestment: r.MinInvestment,
		MaxInvestment: fromNull(r.MaxInvestment),
		MinRedemption: fromNull(r.MinRedemption),
		MaxRedemption: fromNull(r.MaxRedemption),
	}
}

func fromProduct(p *types.Product) ProductRecord {
	return ProductRecord{
		ProductID:     p.ProductID,
		SchemeName:    p.SchemeName,
		MinInvestment: p.MinInvestment,
		MaxInvestment: toNull(p.MaxInvestment),
		MinRedemption: toNull(p.MinRedemption),
		MaxRedemption: toNull(p.MaxRedemption),
	}
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func toNull(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
