package pagination

const (
	DefaultLimit = 20
	MaxLimit     = 250
)

type Pagination struct {
	Limit  int `form:"limit,default=20" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

// Normalize clamps the limit into [1, MaxLimit] and the offset to >= 0.
func (p Pagination) Normalize() Pagination {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type PageInfo struct {
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

func BuildPageInfo(p Pagination, total int64) PageInfo {
	p = p.Normalize()
	return PageInfo{
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: int64(p.Offset+p.Limit) < total,
	}
}

type Page[T any] struct {
	Items    []*T     `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}
