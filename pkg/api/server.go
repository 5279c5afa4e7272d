package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/apperr"
	"github.com/platinummonkey/invoicer/pkg/audit"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/contextkeys"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/orgs"
	"github.com/platinummonkey/invoicer/pkg/procedure"
	"github.com/platinummonkey/invoicer/pkg/rbac"
)

// RPCPrefix is where procedures are served
const RPCPrefix = "/api/rpc"

// OrgStore is the part of orgs.Service the procedures use
type OrgStore interface {
	orgs.MembershipStore
	GetMemberRole(ctx context.Context, userID, orgID string) (string, error)
	ListMembers(ctx context.Context, orgID string) ([]*orgs.MemberDetail, error)
	UpdateMemberRole(ctx context.Context, orgID, userID string, role orgs.Role) error
	DeleteOrganization(ctx context.Context, id string) error
}

// Server serves the procedure registry over HTTP
type Server struct {
	router   *mux.Router
	pipeline *procedure.Pipeline
	checker  rbac.Checker
	orgs     OrgStore
	ledger   LedgerStore
	strict   middleware.Limiter
	audit    audit.Logger
	metrics  *observability.Metrics
	logger   *logrus.Logger
	version  string
	cookie   string
	trust    bool
	now      func() time.Time

	registry map[string]procedure.Procedure
	ordered  []procedure.Procedure
	openapi  *openapi3.T
}

// Option configures a Server
type Option func(*Server)

// WithStrictLimiter sets the limiter spent by destructive mutations
func WithStrictLimiter(l middleware.Limiter) Option {
	return func(s *Server) { s.strict = l }
}

// WithAuditLogger sets where role changes, deletions and denials are recorded
func WithAuditLogger(l audit.Logger) Option {
	return func(s *Server) { s.audit = l }
}

// WithTrustProxy makes audit events take the client address from X-Forwarded-For
func WithTrustProxy(trust bool) Option {
	return func(s *Server) { s.trust = trust }
}

// WithMetrics sets the prometheus metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the base logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithVersion sets the version reported by health.check and the OpenAPI document
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithSessionCookie sets the cookie name advertised in the OpenAPI document
func WithSessionCookie(name string) Option {
	return func(s *Server) { s.cookie = name }
}

// NewServer creates a new API server and registers its routes
func NewServer(pipeline *procedure.Pipeline, checker rbac.Checker, orgStore OrgStore, ledger LedgerStore, opts ...Option) (*Server, error) {
	s := &Server{
		router:   mux.NewRouter(),
		pipeline: pipeline,
		checker:  checker,
		orgs:     orgStore,
		ledger:   ledger,
		audit:    audit.NopLogger{},
		logger:   logrus.StandardLogger(),
		version:  "dev",
		cookie:   auth.DefaultSessionCookie,
		now:      time.Now,
		registry: make(map[string]procedure.Procedure),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, p := range s.procedures() {
		if err := s.register(p); err != nil {
			return nil, err
		}
	}

	doc, err := BuildOpenAPI(s.version, s.cookie, s.ordered)
	if err != nil {
		return nil, fmt.Errorf("failed to build openapi document: %w", err)
	}
	s.openapi = doc

	s.setupRoutes()
	return s, nil
}

func (s *Server) register(p procedure.Procedure) error {
	name := p.Meta().Name
	if _, exists := s.registry[name]; exists {
		return fmt.Errorf("procedure %q registered twice", name)
	}
	s.registry[name] = p
	s.ordered = append(s.ordered, p)
	return nil
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc(RPCPrefix+"/{router}/{procedure}", s.handleRPC).Methods(http.MethodGet, http.MethodPost)
	s.router.HandleFunc("/api/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, apperr.NotFound("route not found"))
	})
}

// Router returns the router so callers can mount additional routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Procedures lists the registered procedures in registration order
func (s *Server) Procedures() []procedure.Meta {
	metas := make([]procedure.Meta, 0, len(s.ordered))
	for _, p := range s.ordered {
		metas = append(metas, p.Meta())
	}
	return metas
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	name := vars["router"] + "." + vars["procedure"]

	proc, ok := s.registry[name]
	if !ok {
		httputil.WriteError(w, apperr.NotFound(fmt.Sprintf("procedure %s not found", name)))
		return
	}

	if r.Method == http.MethodGet && proc.Meta().Kind == procedure.KindMutation {
		httputil.WriteError(w, apperr.BadRequest(fmt.Sprintf("procedure %s must be called with POST", name)))
		return
	}
	raw, err := httputil.RawInput(r, "input")
	if err != nil {
		httputil.WriteError(w, apperr.BadRequest("failed to read request body"))
		return
	}

	ctx := r.Context()
	entry := contextkeys.GetLogger(ctx)
	if entry == nil {
		entry = logrus.NewEntry(s.logger)
	}
	rc := procedure.NewRequestContext(r, entry.WithField("procedure", name), contextkeys.GetRequestID(ctx))

	out, err := proc.Call(ctx, rc, raw)
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeInternal:
			rc.Logger.WithError(err).Error("procedure failed")
		case apperr.CodeForbidden:
			event := audit.NewEvent(ctx, audit.EventTypeAccessDenied, audit.EventStatusDenied)
			event.ResourceType = audit.ResourceTypeProcedure
			event.ResourceID = name
			event.IPAddress = httputil.ClientIP(r, s.trust)
			event.Message = apperr.Public(err).Message
			s.record(rc, event)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteData(w, out)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.openapi)
}

// record writes an audit event; failures are logged and never fail the request
func (s *Server) record(rc procedure.RequestContext, event *audit.Event) {
	if event.RequestID == "" {
		event.RequestID = rc.RequestID
	}
	if err := s.audit.Log(context.Background(), event); err != nil {
		s.entry(rc).WithError(err).WithField("event_type", event.EventType).Error("failed to record audit event")
	}
}

// entry returns the request logger, falling back to the server logger
func (s *Server) entry(rc procedure.RequestContext) *logrus.Entry {
	if rc.Logger != nil {
		return rc.Logger
	}
	return logrus.NewEntry(s.logger)
}
