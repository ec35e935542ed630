// Package catalog stores scheme reference data used by pre-flight validation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/klear-mf/internal/types"
	"github.com/ksred/klear-mf/pkg/response"
)

var ErrProductNotFound = errors.New("product not found")

// Catalog handles product reference data
type Catalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// Get returns one product or ErrProductNotFound.
func (c *Catalog) Get(ctx context.Context, productID string) (*types.Product, error) {
	var rec ProductRecord
	if err := c.db.WithContext(ctx).Where("product_id = ?", productID).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, err
	}
	return rec.toProduct(), nil
}

// GetMany returns the products found for ids keyed by product id. Unknown ids
// are absent from the map; validation reports them per cart item.
func (c *Catalog) GetMany(ctx context.Context, ids []string) (map[string]*types.Product, error) {
	products := make(map[string]*types.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	var records []ProductRecord
	if err := c.db.WithContext(ctx).Where("product_id IN ?", ids).Find(&records).Error; err != nil {
		return nil, err
	}
	for i := range records {
		products[records[i].ProductID] = records[i].toProduct()
	}
	return products, nil
}

func (c *Catalog) List(ctx context.Context) ([]*types.Product, error) {
	var records []ProductRecord
	if err := c.db.WithContext(ctx).Order("product_id ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	products := make([]*types.Product, 0, len(records))
	for i := range records {
		products = append(products, records[i].toProduct())
	}
	return products, nil
}

// Upsert inserts the product or replaces the stored limits.
func (c *Catalog) Upsert(ctx context.Context, p *types.Product) error {
	if err := check(p); err != nil {
		return err
	}
	rec := fromProduct(p)
	return c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"scheme_name", "min_investment", "max_investment", "min_redemption", "max_redemption", "updated_at",
		}),
	}).Create(&rec).Error
}

// Seed upserts every product in one transaction.
func (c *Catalog) Seed(ctx context.Context, products []types.Product) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCatalog := &Catalog{db: tx}
		for i := range products {
			if err := txCatalog.Upsert(ctx, &products[i]); err != nil {
				return fmt.Errorf("seed product %s: %w", products[i].ProductID, err)
			}
		}
		return nil
	})
}

func check(p *types.Product) error {
	if strings.TrimSpace(p.ProductID) == "" {
		return errors.New("product id is required")
	}
	if strings.TrimSpace(p.SchemeName) == "" {
		return errors.New("scheme name is required")
	}
	if p.MinInvestment.IsNegative() {
		return errors.New("minimum investment cannot be negative")
	}
	if p.MaxInvestment != nil && p.MaxInvestment.LessThan(p.MinInvestment) {
		return errors.New("maximum investment is below minimum investment")
	}
	return nil
}

// DemoProducts is the reference data loaded into an empty catalog by the
// server and the simulator.
func DemoProducts() []types.Product {
	limit := func(v int64) *decimal.Decimal {
		d := decimal.NewFromInt(v)
		return &d
	}
	return []types.Product{
		{ProductID: "1", SchemeName: "Alpha Growth Fund", MinInvestment: decimal.NewFromInt(5000), MaxInvestment: limit(1000000), MinRedemption: limit(1000)},
		{ProductID: "2", SchemeName: "Beta Corporate Debt Fund", MinInvestment: decimal.NewFromInt(1000), MaxInvestment: limit(5000000), MinRedemption: limit(500), MaxRedemption: limit(2000000)},
		{ProductID: "3", SchemeName: "Gamma Liquid Fund", MinInvestment: decimal.NewFromInt(500)},
		{ProductID: "4", SchemeName: "Delta Tax Saver", MinInvestment: decimal.NewFromInt(500), MaxInvestment: limit(150000)},
	}
}

// GinHandlers contains HTTP handlers for product lookups
type GinHandlers struct {
	catalog *Catalog
}

func NewGinHandlers(catalog *Catalog) *GinHandlers {
	return &GinHandlers{catalog: catalog}
}

// ListProductsHandler returns every product in the catalog
func (h *GinHandlers) ListProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		products, err := h.catalog.List(c.Request.Context())
		response.Handle(c, products, err)
	}
}

// GetProductHandler returns one product by its id
func (h *GinHandlers) GetProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		product, err := h.catalog.Get(c.Request.Context(), c.Param("product_id"))
		if errors.Is(err, ErrProductNotFound) {
			response.NotFound(c, "Product not found")
			return
		}
		response.Handle(c, product, err)
	}
}
