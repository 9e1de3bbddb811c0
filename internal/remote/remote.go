// Package remote defines the remote store boundary of the sync engine and a
// REST-backed default implementation.
package remote

import (
	"context"
	"strings"
)

// Row is one row of a remote table.
type Row map[string]interface{}

// Filter is a column -> value equality filter.
type Filter map[string]string

// Store is the row-and-blob contract of the remote backend. Implementations
// must preserve the backend's error message text verbatim: conflict
// classification (IsConflict) pattern-matches on it.
type Store interface {
	// Select returns the rows of table matching filter.
	Select(ctx context.Context, table string, filter Filter) ([]Row, error)

	// Insert appends one row to table.
	Insert(ctx context.Context, table string, row Row) error

	// Update modifies the rows of table matching filter.
	Update(ctx context.Context, table string, row Row, filter Filter) error

	// UploadFile stores a blob at path inside bucket, replacing any
	// existing object.
	UploadFile(ctx context.Context, bucket, path string, data []byte) error
}

// IsConflict reports whether err is a duplicate-key conflict. This is the one
// place the engine string-matches backend error text; the backend offers no
// structured conflict code on its write paths.
// TODO: switch to the structured code if the backend ever exposes one.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

// User identifies the authenticated principal.
type User struct {
	ID    string
	Email string
}

// Session provides the current authenticated user. A false return signals
// "not authenticated".
type Session interface {
	CurrentUser() (*User, bool)
}

// StaticSession is a Session with a fixed user, used in tests and tools.
type StaticSession struct {
	User *User
}

// CurrentUser returns the fixed user, or false when nil.
func (s *StaticSession) CurrentUser() (*User, bool) {
	if s == nil || s.User == nil {
		return nil, false
	}
	return s.User, true
}
