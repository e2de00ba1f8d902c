package common

import (
	"fmt"
	"strings"
	"time"
)

// BatchResult is the outcome of every mutating batch operation. A rejected
// batch reports Success=false with AffectedCount=0; partial failure detail is
// carried in Errors.
type BatchResult struct {
	Success       bool     `json:"success"`
	AffectedCount int      `json:"affected_count"`
	Message       string   `json:"message"`
	Errors        []string `json:"errors,omitempty"`
	BatchID       int64    `json:"batch_id,omitempty"`
}

// Rejected builds a failed BatchResult that touched nothing.
func Rejected(message string, errs ...string) *BatchResult {
	return &BatchResult{
		Success:       false,
		AffectedCount: 0,
		Message:       message,
		Errors:        errs,
	}
}

// Succeeded builds a BatchResult for an applied batch. errs carries the
// per-item problems of the ids that were excluded.
func Succeeded(count int, message string, errs ...string) *BatchResult {
	return &BatchResult{
		Success:       true,
		AffectedCount: count,
		Message:       message,
		Errors:        errs,
	}
}

// AddError appends a formatted error line.
func (r *BatchResult) AddError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary renders e.g. "3 renewals updated, 2 errors".
func (r *BatchResult) Summary(noun string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s", r.AffectedCount, noun)
	if n := len(r.Errors); n > 0 {
		fmt.Fprintf(&sb, ", %d error", n)
		if n > 1 {
			sb.WriteString("s")
		}
	}
	return sb.String()
}

// Pagination defines parameters for paginated requests.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

const (
	DefaultPageSize = 25
	MaxPageSize     = 500
)

// Normalize clamps page and size to usable values.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the SQL OFFSET value.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// PaginationResult holds the pagination metadata for a response.
type PaginationResult struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPaginationResult computes TotalPages for total rows.
func NewPaginationResult(p Pagination, total int) PaginationResult {
	pages := 0
	if p.PageSize > 0 {
		pages = (total + p.PageSize - 1) / p.PageSize
	}
	return PaginationResult{Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}

// PaginatedResult is a generic wrapper for paginated data.
type PaginatedResult[T any] struct {
	Items      []T              `json:"items"`
	Pagination PaginationResult `json:"pagination"`
}

// DateRange is an inclusive date interval. Either bound may be nil.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Validate checks that From is not after To.
func (dr DateRange) Validate() error {
	if dr.From != nil && dr.To != nil && dr.From.After(*dr.To) {
		return fmt.Errorf("invalid date range: 'from' must be before or equal to 'to'")
	}
	return nil
}

// IsZero reports whether neither bound is set.
func (dr DateRange) IsZero() bool {
	return dr.From == nil && dr.To == nil
}

// ErrorDetail provides structured error information for API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthStatus indicates the health of a component.
type HealthStatus string

const (
	HealthUp   HealthStatus = "up"
	HealthDown HealthStatus = "down"
)

// ComponentHealth provides health information for a specific component.
type ComponentHealth struct {
	Name    string        `json:"name"`
	Status  HealthStatus  `json:"status"`
	Latency time.Duration `json:"latency"`
	Message string        `json:"message,omitempty"`
}

// ContextKey types request-scoped context values.
type ContextKey string

const (
	// ContextKeyUserID carries the acting user login.
	ContextKeyUserID ContextKey = "user_id"
	// ContextKeyRequestID carries the request id.
	ContextKeyRequestID ContextKey = "request_id"
)
