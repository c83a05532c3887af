package api

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// PaginationMeta is embedded in paginated list responses.
type PaginationMeta struct {
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// pageRequest is a requested window into a list.
type pageRequest struct {
	limit  int
	offset int
}

// parsePage reads the "limit" and "offset" query parameters. Missing values
// take defaults and limit is capped at maxPageLimit. Values that are not
// integers, or are negative, are rejected.
func parsePage(q url.Values) (pageRequest, error) {
	p := pageRequest{limit: defaultPageLimit}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return pageRequest{}, fmt.Errorf("invalid limit %q", v)
		}
		p.limit = min(n, maxPageLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return pageRequest{}, fmt.Errorf("invalid offset %q", v)
		}
		p.offset = n
	}
	return p, nil
}

// paginate returns the window of items selected by p. An offset past the end
// yields an empty, non-nil page.
func paginate[T any](items []T, p pageRequest) ([]T, PaginationMeta) {
	start := min(p.offset, len(items))
	end := min(start+p.limit, len(items))
	page := make([]T, end-start)
	copy(page, items[start:end])
	return page, PaginationMeta{
		TotalCount: len(items),
		Limit:      p.limit,
		Offset:     p.offset,
		HasMore:    end < len(items),
	}
}
