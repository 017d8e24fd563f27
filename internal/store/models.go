package store

import "time"

type User struct {
	ID        string
	Email     string
	Language  string
	CreatedAt time.Time
}

type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Node is a document or template occupying one position in the materialized
// path tree. Path is owned by the tree operations (create/move) and never
// mutated elsewhere; DeletedAt is the node's own soft-delete timestamp while
// AncestorsDeletedAt is the earliest soft-delete among self-or-ancestors.
type Node struct {
	ID                 string
	Path               string
	Kind               string
	CreatorID          string
	Title              string
	Content            string
	LinkReach          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
	AncestorsDeletedAt *time.Time
}

// Access grants a role on a node to exactly one of a user or a team.
type Access struct {
	ID        string
	NodeID    string
	UserID    *string
	TeamID    *string
	Role      string
	CreatedAt time.Time
	// Joined for API responses
	UserEmail string
}

const (
	KindDocument = "document"
	KindTemplate = "template"
)
