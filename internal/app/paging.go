package app

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Paging is a resolved page request.
type Paging struct {
	Page   int
	Size   int
	Offset int
}

// NewPaging applies defaults to non-positive values and caps size at MaxPageSize.
func NewPaging(page, size, defaultSize int) Paging {
	if page < 1 {
		page = DefaultPage
	}
	if size < 1 {
		size = defaultSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Paging{Page: page, Size: size, Offset: (page - 1) * size}
}
