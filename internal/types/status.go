package types

import (
	"database/sql/driver"
	"fmt"
)

// ConnectorType identifies a settlement channel.
type ConnectorType string

const (
	ConnectorRTA      ConnectorType = "RTA"
	ConnectorExchange ConnectorType = "EXCHANGE"
)

// Valid reports whether c names a known channel.
func (c ConnectorType) Valid() bool {
	return c == ConnectorRTA || c == ConnectorExchange
}

// OrderStatus is the channel-side state of a submitted order.
//
//	Pending ──> Authorized ──> Executed ──> Settled
//	   │            │
//	   ├────────────┴──> Cancelled
//	   └──> Rejected
//
// Executed and Settled are terminal for cancellation.
type OrderStatus int

const (
	StatusUnknown OrderStatus = iota
	StatusPending
	StatusAuthorized
	StatusExecuted
	StatusSettled
	StatusCancelled
	StatusRejected
)

var statusNames = map[OrderStatus]string{
	StatusUnknown:    "Unknown",
	StatusPending:    "Pending",
	StatusAuthorized: "Authorized",
	StatusExecuted:   "Executed",
	StatusSettled:    "Settled",
	StatusCancelled:  "Cancelled",
	StatusRejected:   "Rejected",
}

func (s OrderStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsTerminal reports whether the order can no longer be cancelled.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusExecuted, StatusSettled:
		return true
	case StatusUnknown, StatusPending, StatusAuthorized, StatusCancelled, StatusRejected:
		return false
	}
	return false
}

// ParseOrderStatus converts a status name back into an OrderStatus.
func ParseOrderStatus(name string) (OrderStatus, error) {
	for status, n := range statusNames {
		if n == name && status != StatusUnknown {
			return status, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown order status %q", name)
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value stores the status by name so rows stay readable.
func (s OrderStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

func (s *OrderStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		return s.scanName(v)
	case []byte:
		return s.scanName(string(v))
	case nil:
		*s = StatusUnknown
		return nil
	}
	return fmt.Errorf("cannot scan %T into OrderStatus", src)
}

func (s *OrderStatus) scanName(name string) error {
	if name == "" || name == statusNames[StatusUnknown] {
		*s = StatusUnknown
		return nil
	}
	return s.UnmarshalText([]byte(name))
}
