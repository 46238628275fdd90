package model

// Page is one result of a cursor-paginated fetch. NextCursor is empty once
// the collection is exhausted.
type Page[T any] struct {
	Rows       []T    `json:"rows"`
	NextCursor string `json:"nextCursor"`
}
