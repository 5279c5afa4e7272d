package procedure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/invoicer/pkg/apperr"
)

// Access describes which stages a procedure runs before its handler
type Access string

const (
	AccessPublic       Access = "public"
	AccessProtected    Access = "protected"
	AccessOrganization Access = "organization"
	AccessAdmin        Access = "admin_or_owner"
	AccessOwner        Access = "owner"
)

// Kind is query (read-only, GET allowed) or mutation (POST only)
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Meta describes a procedure for routing and documentation
type Meta struct {
	Name        string
	Kind        Kind
	Access      Access
	Permission  string
	Summary     string
	InputSchema interface{}
}

// Procedure is a named, guarded handler with JSON input and output
type Procedure interface {
	Meta() Meta
	Call(ctx context.Context, rc RequestContext, input json.RawMessage) (interface{}, error)
}

type procedure[C, In, Out any] struct {
	meta    Meta
	stage   Stage[RequestContext, C]
	handler Handler[C, In, Out]
}

// Define binds a guard chain to a handler. The handler only runs once every
// stage has passed.
func Define[C, In, Out any](meta Meta, stage Stage[RequestContext, C], handler Handler[C, In, Out]) Procedure {
	if meta.Kind == "" {
		meta.Kind = KindQuery
	}
	var in In
	if meta.InputSchema == nil {
		meta.InputSchema = in
	}
	return &procedure[C, In, Out]{meta: meta, stage: stage, handler: handler}
}

// Public defines a procedure with no guards
func Public[In, Out any](meta Meta, handler Handler[RequestContext, In, Out]) Procedure {
	meta.Access = AccessPublic
	return Define(meta, func(ctx context.Context, rc RequestContext) (RequestContext, error) {
		return rc, nil
	}, handler)
}

func (p *procedure[C, In, Out]) Meta() Meta {
	return p.meta
}

func (p *procedure[C, In, Out]) Call(ctx context.Context, rc RequestContext, raw json.RawMessage) (interface{}, error) {
	c, err := p.stage(ctx, rc)
	if err != nil {
		return nil, err
	}

	var input In
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&input); err != nil {
			return nil, apperr.BadRequest(fmt.Sprintf("invalid input: %v", err))
		}
	}

	return p.handler(ctx, c, input)
}
