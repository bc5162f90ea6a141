// Package remote defines the contract CleanSpace uses to reach its hosted
// backend, plus a Supabase client and an in-process implementation.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Row is a single table row keyed by column name.
type Row map[string]interface{}

// Cond is a single column predicate.
type Cond struct {
	Column string
	Op     string // eq, neq, gt, gte, lt, lte
	Value  interface{}
}

// Filter is a conjunction of predicates.
type Filter []Cond

// Eq builds an equality predicate.
func Eq(column string, value interface{}) Cond {
	return Cond{Column: column, Op: "eq", Value: value}
}

// Gt builds a greater-than predicate.
func Gt(column string, value interface{}) Cond {
	return Cond{Column: column, Op: "gt", Value: value}
}

// Order sorts selected rows by a column.
type Order struct {
	Column string
	Desc   bool
}

// ChangeType is the kind of row change pushed by a subscription.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// Change is a push notification for a subscribed table.
type Change struct {
	Type   ChangeType `json:"type"`
	Table  string     `json:"table"`
	Record Row        `json:"record"`
	Old    Row        `json:"old_record"`
}

// Subscription is a live change feed.
type Subscription interface {
	Unsubscribe() error
}

// Store is the request/response contract of the hosted backend.
type Store interface {
	InsertRow(ctx context.Context, table string, values Row) (Row, error)
	UpdateRow(ctx context.Context, table string, key Filter, patch Row) (Row, error)
	SelectRows(ctx context.Context, table string, filter Filter, order *Order, limit int) ([]Row, error)
	UpsertRow(ctx context.Context, table string, values Row, conflictKey string) (Row, error)
	// Subscribe registers cb for changes and returns without waiting for
	// the feed to connect.
	Subscribe(ctx context.Context, table string, filter Filter, cb func(Change)) (Subscription, error)
}

// HealthChecker is implemented by stores that can report reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Error is a failed remote call. Permanent errors will not succeed on retry.
type Error struct {
	Status    int
	Msg       string
	Permanent bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote error (%d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("remote error: %s", e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError classifies an HTTP status. 408 and 429 are retryable like 5xx;
// other 4xx are permanent.
func StatusError(status int, msg string) *Error {
	permanent := status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
	return &Error{Status: status, Msg: msg, Permanent: permanent}
}

// Transient wraps err as a retryable failure.
func Transient(err error) *Error {
	return &Error{Msg: err.Error(), Err: err}
}

// IsPermanent reports whether err is a remote error that must not be retried.
func IsPermanent(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Permanent
	}
	return false
}

// ErrNoRows is returned by UpdateRow when no row matched the key.
var ErrNoRows = &Error{Status: http.StatusNotFound, Msg: "no rows matched", Permanent: true}
