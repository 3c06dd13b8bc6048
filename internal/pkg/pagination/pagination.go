package pagination

import (
	"strconv"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Page is a validated page request for list endpoints.
type Page struct {
	Number int
	Limit  int
}

// Parse reads page and limit query values. Missing or malformed values fall
// back to the first page and DefaultLimit; limits are capped at MaxLimit.
func Parse(pageStr, limitStr string) Page {
	page, _ := strconv.Atoi(pageStr)
	limit, _ := strconv.Atoi(limitStr)

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Page{Number: page, Limit: limit}
}

// Offset returns how many rows to skip.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Pages returns how many pages total rows span, at least one.
func (p Page) Pages(total int64) int {
	if total <= 0 {
		return 1
	}
	return int((total + int64(p.Limit) - 1) / int64(p.Limit))
}
