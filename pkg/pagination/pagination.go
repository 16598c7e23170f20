package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Params holds page-number pagination parameters extracted from a request.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page <= 0 {
		page = 1
	}

	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	return Params{Page: page, PageSize: size}
}

// Limit returns the SQL LIMIT for the current page.
func (p Params) Limit() int { return p.PageSize }

// Offset returns the SQL OFFSET for the current page.
func (p Params) Offset() int { return (p.Page - 1) * p.PageSize }

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Page*p.PageSize < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Page > 1
}

// Envelope wraps a paginated API response with next/previous page links.
type Envelope struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  interface{} `json:"results"`
}

// NewEnvelope builds the response envelope. basePath is the request path
// the page links are built against.
func NewEnvelope(results interface{}, total int, basePath string, p Params) *Envelope {
	env := &Envelope{Count: total, Results: results}
	if p.HasNext(total) {
		u := fmt.Sprintf("%s?page=%d&page_size=%d", basePath, p.Page+1, p.PageSize)
		env.Next = &u
	}
	if p.HasPrevious() {
		u := fmt.Sprintf("%s?page=%d&page_size=%d", basePath, p.Page-1, p.PageSize)
		env.Previous = &u
	}
	return env
}
