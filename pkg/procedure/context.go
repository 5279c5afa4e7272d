package procedure

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/orgs"
)

// Header names read by the pipeline
const (
	HeaderDemoMode         = "X-Demo-Mode"
	HeaderOrganizationSlug = "X-Organization-Slug"
	HeaderOrganizationID   = "X-Organization-Id"
)

// RequestContext is what every procedure starts from
type RequestContext struct {
	Headers   http.Header
	Path      string
	RequestID string
	Logger    *logrus.Entry
}

// NewRequestContext builds a RequestContext from an HTTP request
func NewRequestContext(r *http.Request, logger *logrus.Entry, requestID string) RequestContext {
	return RequestContext{
		Headers:   r.Header,
		Path:      r.URL.Path,
		RequestID: requestID,
		Logger:    logger,
	}
}

func (rc RequestContext) log() *logrus.Entry {
	entry := rc.Logger
	if entry == nil {
		entry = logrus.NewEntry(logrus.StandardLogger())
	}
	return entry.WithFields(logrus.Fields{
		"path":       rc.Path,
		"request_id": rc.RequestID,
	})
}

// AuthenticatedContext is a RequestContext with a verified identity
type AuthenticatedContext struct {
	RequestContext
	User       auth.User
	Session    auth.Session
	Credential auth.Credential
}

// IsDemo reports whether the identity is the synthetic demo identity
func (ac AuthenticatedContext) IsDemo() bool {
	return ac.Credential.Source == auth.SourceDemo
}

// OrganizationContext is an AuthenticatedContext scoped to one organization
// the user is a member of
type OrganizationContext struct {
	AuthenticatedContext
	Organization orgs.Organization
	Member       orgs.Member
}

// Stage transforms one context into the next or fails with an apperr condition
type Stage[A, B any] func(ctx context.Context, in A) (B, error)

// Then runs first, then second on its output
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, in A) (C, error) {
		mid, err := first(ctx, in)
		if err != nil {
			var zero C
			return zero, err
		}
		return second(ctx, mid)
	}
}

// Gate checks a context without changing it
type Gate[A any] func(ctx context.Context, in A) error

// Check turns a gate into a pass-through stage
func Check[A any](gate Gate[A]) Stage[A, A] {
	return func(ctx context.Context, in A) (A, error) {
		if err := gate(ctx, in); err != nil {
			var zero A
			return zero, err
		}
		return in, nil
	}
}

// Handler is the business logic at the end of a procedure
type Handler[C, In, Out any] func(ctx context.Context, c C, input In) (Out, error)
