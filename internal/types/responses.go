package types

import "time"

// ConnectorResponse is the unified result of a submission. On success exactly one
// of ExchangeRefNo and RTARefNo is set.
type ConnectorResponse struct {
	Success       bool          `json:"success"`
	Connector     ConnectorType `json:"connector"`
	ExchangeRefNo string        `json:"exchange_ref_no,omitempty"`
	RTARefNo      string        `json:"rta_ref_no,omitempty"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	TraceID       string        `json:"trace_id"`
	Error         string        `json:"error,omitempty"`
	ErrorCode     string        `json:"error_code,omitempty"`
}

// RefNo returns whichever channel reference the response carries.
func (r *ConnectorResponse) RefNo() string {
	if r.ExchangeRefNo != "" {
		return r.ExchangeRefNo
	}
	return r.RTARefNo
}

type CancelResponse struct {
	Success     bool        `json:"success"`
	OrderID     string      `json:"order_id"`
	Status      OrderStatus `json:"status"`
	Message     string      `json:"message,omitempty"`
	CancelledAt *time.Time  `json:"cancelled_at,omitempty"`
}

// ValidationResult collects every error and warning found for an order.
// Errors block submission; warnings never do.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func NewValidationResult() ValidationResult {
	return ValidationResult{IsValid: true, Errors: []string{}, Warnings: []string{}}
}

func (r *ValidationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IsValid = false
}

func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Merge appends other's errors and warnings, optionally prefixing each message.
func (r *ValidationResult) Merge(other ValidationResult, prefix string) {
	for _, e := range other.Errors {
		r.AddError(prefix + e)
	}
	for _, w := range other.Warnings {
		r.AddWarning(prefix + w)
	}
}
