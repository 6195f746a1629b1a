package xrepo

import (
	"context"

	"github.com/google/uuid"

	"github.com/xanotech/xrepo/recordset"
)

// Operation describes one top-level repository call as seen by hooks. ID is
// a correlation id unique to the call, shared by its pre and post hooks.
type Operation struct {
	ID   string
	Kind string // count, find, save, remove
	Type string // mapped type name or joined table names
	SQL  string // generated statement, when the hook runs around a query
	Args []any
}

func newOperation(kind, label, sql string, args []any) *Operation {
	return &Operation{ID: uuid.NewString(), Kind: kind, Type: label, SQL: sql, Args: args}
}

// Hook observes and may veto repository operations. Nil functions are
// skipped; a non-nil error from a pre hook aborts the call before any
// statement runs.
type Hook struct {
	PreQuery   func(ctx context.Context, op *Operation) error
	PostFetch  func(ctx context.Context, op *Operation, records []*recordset.Record) error
	PreSave    func(ctx context.Context, op *Operation, objects []any) error
	PostSave   func(ctx context.Context, op *Operation, objects []any) error
	PreRemove  func(ctx context.Context, op *Operation, objects []any) error
	PostRemove func(ctx context.Context, op *Operation, objects []any) error
}

func (r *Repository) runPreQuery(ctx context.Context, op *Operation) error {
	for _, h := range r.hooks {
		if h.PreQuery == nil {
			continue
		}
		if err := h.PreQuery(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) runPostFetch(ctx context.Context, op *Operation, records []*recordset.Record) error {
	for _, h := range r.hooks {
		if h.PostFetch == nil {
			continue
		}
		if err := h.PostFetch(ctx, op, records); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) runMutationHooks(ctx context.Context, op *Operation, objects []any, pre bool) error {
	for _, h := range r.hooks {
		var fn func(context.Context, *Operation, []any) error
		switch {
		case op.Kind == "save" && pre:
			fn = h.PreSave
		case op.Kind == "save":
			fn = h.PostSave
		case pre:
			fn = h.PreRemove
		default:
			fn = h.PostRemove
		}
		if fn == nil {
			continue
		}
		if err := fn(ctx, op, objects); err != nil {
			return err
		}
	}
	return nil
}
