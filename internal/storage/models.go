package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Request is a recorded translation request together with its fragment
// results.
type Request struct {
	ID         string
	CreatedAt  time.Time
	Mode       string
	Model      string
	SourceLang string
	TargetLang string
	Status     string
	Error      string
	Fragments  []Fragment
}

// Fragment is one source/translation pair within a request, in request
// order.
type Fragment struct {
	Index      int
	SourceText string
	Translated string
}
