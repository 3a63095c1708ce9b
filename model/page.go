package model

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T
	Total    int64
	Page     int
	PageSize int
}

// LastPage is the number of the last page, at least 1.
func (p *Page[T]) LastPage() int {
	if p.PageSize <= 0 || p.Total == 0 {
		return 1
	}
	return int((p.Total + int64(p.PageSize) - 1) / int64(p.PageSize))
}

const (
	defaultPageSize = 15
	maxPageSize     = 200
)

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	return page, perPage
}

func newPage[T any](items []T, total int64, page, perPage int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Page: page, PageSize: perPage}
}
