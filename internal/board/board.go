// Package board defines the provider contract over external kanban services
// and the shared plumbing (failure taxonomy, retries, pooling, label
// mapping) that every vendor adapter uses. The core only ever sees typed
// tasks; each adapter owns its wire normalization.
package board

import (
	"context"
	"errors"
	"fmt"

	"github.com/marcus-coord/marcus/internal/domain"
)

// Provider is the capability set every board vendor adapter implements.
// All methods respect ctx deadlines and return typed failures (*Failure)
// for anything that went wrong past the transport.
type Provider interface {
	// Name identifies the vendor ("planka", "github", "linear", "local").
	Name() string

	// ListAvailableTasks returns the tasks the provider considers open or
	// ready. Ordering is not guaranteed.
	ListAvailableTasks(ctx context.Context) ([]domain.Task, error)

	// GetTask fetches a single task by its provider-assigned ID.
	GetTask(ctx context.Context, id string) (domain.Task, error)

	// CreateTask creates a card from a draft and returns the fully
	// populated task with the provider-assigned ID.
	CreateTask(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)

	// UpdateStatus moves the external card to the column mapped to the
	// internal status. The mapping table is adapter-specific.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error

	// AddComment appends a comment. Comments are the cross-provider
	// substitute for structured fields (progress, blockers, time logs).
	AddComment(ctx context.Context, id, text string) error

	// SetAssignee records the assignee; adapters without native assignees
	// record via comment. Empty agentID clears the assignee.
	SetAssignee(ctx context.Context, id, agentID string) error

	// BoardSummary returns per-status counts and stats.
	BoardSummary(ctx context.Context) (Summary, error)

	// Ping checks reachability. Used by the pool health checker and the
	// startup probe.
	Ping(ctx context.Context) error
}

// Summary is the normalized board overview.
type Summary struct {
	Counts     map[domain.Status]int `json:"counts"`
	TotalCards int                   `json:"total_cards"`
	Provider   string                `json:"provider"`
}

// FailureKind classifies provider failures per the shared taxonomy.
type FailureKind int

const (
	// FailTransient covers network errors, 5xx, and rate limits. Retried
	// with capped exponential backoff.
	FailTransient FailureKind = iota
	// FailNotFound is surfaced to the caller.
	FailNotFound
	// FailConflict is a version mismatch; refresh and retry once.
	FailConflict
	// FailPermission is fatal for the operation.
	FailPermission
	// FailMalformed is an undecodable response. Treated as transient on
	// first occurrence, fatal on repeat.
	FailMalformed
)

func (k FailureKind) String() string {
	switch k {
	case FailTransient:
		return "transient"
	case FailNotFound:
		return "not_found"
	case FailConflict:
		return "conflict"
	case FailPermission:
		return "permission_denied"
	case FailMalformed:
		return "malformed_response"
	}
	return "unknown"
}

// Failure is a typed provider error.
type Failure struct {
	Kind   FailureKind
	Op     string
	Status int // HTTP status when applicable, 0 otherwise
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("board %s: %s (%v)", f.Op, f.Kind, f.Err)
	}
	return fmt.Sprintf("board %s: %s", f.Op, f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a typed failure.
func NewFailure(kind FailureKind, op string, err error) *Failure {
	return &Failure{Kind: kind, Op: op, Err: err}
}

// ClassifyStatus maps an HTTP status code to a failure kind.
func ClassifyStatus(status int) FailureKind {
	switch {
	case status == 404 || status == 410:
		return FailNotFound
	case status == 409 || status == 412:
		return FailConflict
	case status == 401 || status == 403:
		return FailPermission
	case status == 429 || status >= 500:
		return FailTransient
	default:
		return FailTransient
	}
}

// KindOf extracts the failure kind from err, defaulting to transient for
// plain transport errors.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailTransient
}

// IsRetryable reports whether the failure should go through the backoff
// loop.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case FailTransient, FailConflict:
		return true
	}
	return false
}

// ToDomain converts a provider failure into a coordinator error kind for
// surfacing past the retry budget.
func ToDomain(err error, op string) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case FailNotFound:
		return domain.WrapError(domain.KindNotFound, err, "board %s", op)
	case FailPermission:
		return domain.WrapError(domain.KindProviderFatal, err, "board %s", op)
	case FailMalformed:
		// Past the retry budget a malformed response is a provider contract
		// problem, not a blip.
		return domain.WrapError(domain.KindProviderFatal, err, "board %s", op)
	default:
		return domain.WrapError(domain.KindProviderTransient, err, "board %s", op)
	}
}
