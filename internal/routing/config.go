package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ksred/klear-mf/internal/types"
)

var ErrInvalidConfig = errors.New("invalid routing config")

// Rule maps orders matching its scheme and transaction type constraints to a
// preferred connector, with an optional fallback. Empty constraints match
// every order.
type Rule struct {
	Priority           int                   `json:"priority"`
	Scheme             string                `json:"scheme,omitempty"`
	TransactionType    types.TransactionType `json:"transaction_type,omitempty"`
	PreferredConnector types.ConnectorType   `json:"preferred_connector"`
	FallbackConnector  types.ConnectorType   `json:"fallback_connector,omitempty"`
}

// Matches reports whether the order's cart satisfies both constraints. The
// constraints are checked independently: one item may carry the scheme and
// another the transaction type.
func (r Rule) Matches(order *types.Order) bool {
	if r.Scheme != "" && !order.HasScheme(r.Scheme) {
		return false
	}
	if r.TransactionType != "" && !order.HasTransactionType(r.TransactionType) {
		return false
	}
	return true
}

// Config is an immutable snapshot of the routing rules. Rules are ordered by
// priority, highest first; rules with equal priority keep the order in which
// they were registered, so the first registered wins.
type Config struct {
	Version          int64               `json:"version"`
	Rules            []Rule              `json:"rules"`
	DefaultConnector types.ConnectorType `json:"default_connector,omitempty"`
}

// NewConfig validates the rules and returns a sorted snapshot. The rules slice
// is copied. An empty default connector is allowed; orders that match no
// usable rule then fail with ErrNoAvailableConnector.
func NewConfig(rules []Rule, defaultConnector types.ConnectorType) (*Config, error) {
	if defaultConnector != "" && !defaultConnector.Valid() {
		return nil, fmt.Errorf("%w: unknown default connector %q", ErrInvalidConfig, defaultConnector)
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	for i, r := range sorted {
		if !r.PreferredConnector.Valid() {
			return nil, fmt.Errorf("%w: rule %d has unknown preferred connector %q", ErrInvalidConfig, i, r.PreferredConnector)
		}
		if r.FallbackConnector != "" && !r.FallbackConnector.Valid() {
			return nil, fmt.Errorf("%w: rule %d has unknown fallback connector %q", ErrInvalidConfig, i, r.FallbackConnector)
		}
		if r.TransactionType != "" && !r.TransactionType.Valid() {
			return nil, fmt.Errorf("%w: rule %d has unknown transaction type %q", ErrInvalidConfig, i, r.TransactionType)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Config{Rules: sorted, DefaultConnector: defaultConnector}, nil
}
