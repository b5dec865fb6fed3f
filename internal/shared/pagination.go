package shared

// Page bounds a listing query.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage normalises limit and offset. Limits default to 50 and are capped
// at 500.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
