package model

// Category is the relational category record. It stays authoritative for
// identity; the vector store only ranks similarity against it.
type Category struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	ParentName string `json:"parent_name,omitempty"`
	Examples   string `json:"examples,omitempty"`
}

// Template is a house description-style exemplar synced into the vector
// store's templates collection and retrieved as prompt context.
type Template struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
