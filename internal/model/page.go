package model

// Page is one fetched slice of a scope. Page numbers start at 0.
type Page struct {
	Items  []Comment `json:"content"`
	Number int       `json:"number"`
	Last   bool      `json:"last"`
}
