package api

import (
	"fmt"
	"net/url"
	"strconv"
)

const maxPerPage = 200

// Page describes one page of a listing. Page numbers start at 0.
type Page struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
	Total   int `json:"total"`
}

// parsePage reads page and per_page. ok is false when per_page is absent and
// the whole listing should be returned.
func parsePage(q url.Values) (page, perPage int, ok bool, err error) {
	if q.Get("per_page") == "" {
		if q.Get("page") != "" {
			return 0, 0, false, fmt.Errorf("page requires per_page")
		}
		return 0, 0, false, nil
	}
	perPage, err = strconv.Atoi(q.Get("per_page"))
	if err != nil || perPage <= 0 || perPage > maxPerPage {
		return 0, 0, false, fmt.Errorf("per_page must be between 1 and %d", maxPerPage)
	}
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 0 {
			return 0, 0, false, fmt.Errorf("page must be a non-negative integer")
		}
	}
	return page, perPage, true, nil
}

// paginate returns the bounds of page within total items. A page past the end
// yields an empty range.
func paginate(total, page, perPage int) (start, end int, meta Page) {
	start = page * perPage
	if start > total {
		start = total
	}
	end = start + perPage
	if end > total {
		end = total
	}
	return start, end, Page{
		Page:    page,
		PerPage: perPage,
		Pages:   (total + perPage - 1) / perPage,
		Total:   total,
	}
}
