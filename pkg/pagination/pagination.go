// Package pagination provides limit/offset pagination helpers shared by
// the analytics list endpoints.
package pagination

const (
	// DefaultLimit is the default page size if not specified
	DefaultLimit = 50
	// MaxLimit is the maximum allowed page size
	MaxLimit = 100
)

// Params is a normalized limit/offset pair.
type Params struct {
	Limit  int
	Offset int
}

// Normalize clamps raw query values into a valid Params. Non-positive
// limits fall back to DefaultLimit; negative offsets to zero.
func Normalize(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// Page is the standard list-response envelope: one page of items plus
// the total row count for the query.
type Page[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// NewPage builds a Page, normalizing a nil slice to empty so the JSON
// encodes as [] rather than null.
func NewPage[T any](items []T, total int64, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset}
}
