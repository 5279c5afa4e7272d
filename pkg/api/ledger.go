package api

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Invoice is a row of the invoices table
type Invoice struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	ClientID       string     `json:"client_id,omitempty"`
	Number         string     `json:"number"`
	Status         string     `json:"status"`
	TotalCents     int64      `json:"total_cents"`
	Currency       string     `json:"currency"`
	IssuedAt       *time.Time `json:"issued_at,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Client is a row of the clients table
type Client struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// InvoiceList is one page of invoices and the unpaged total
type InvoiceList struct {
	Invoices []*Invoice `json:"invoices"`
	Total    int        `json:"total"`
}

// ClientList is one page of clients and the unpaged total
type ClientList struct {
	Clients []*Client `json:"clients"`
	Total   int       `json:"total"`
}

// ListInput pages through a listing, newest first
type ListInput struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Status string `json:"status,omitempty"`
}

func (in ListInput) page() (limit, offset int) {
	limit = in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = in.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// LedgerStore reads organization-scoped invoices and clients
type LedgerStore interface {
	ListInvoices(ctx context.Context, orgID string, in ListInput) (*InvoiceList, error)
	ListClients(ctx context.Context, orgID string, in ListInput) (*ClientList, error)
}

// SQLLedgerStore implements LedgerStore on PostgreSQL. Every query is bound
// to one organization id.
type SQLLedgerStore struct {
	db    *sql.DB
	stats *observability.QueryStats
}

// NewSQLLedgerStore creates a new ledger store
func NewSQLLedgerStore(db *sql.DB, stats *observability.QueryStats) *SQLLedgerStore {
	return &SQLLedgerStore{db: db, stats: stats}
}

// ListInvoices returns one page of the organization's invoices
func (s *SQLLedgerStore) ListInvoices(ctx context.Context, orgID string, in ListInput) (*InvoiceList, error) {
	limit, offset := in.page()
	list := &InvoiceList{Invoices: []*Invoice{}}

	err := s.stats.Track(ctx, "ledger.list_invoices", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, organization_id, client_id, number, status, total_cents, currency,
			       issued_at, due_at, created_at, COUNT(*) OVER() AS total
			FROM invoices
			WHERE organization_id = $1 AND ($2 = '' OR status = $2)
			ORDER BY created_at DESC
			LIMIT $3 OFFSET $4
		`, orgID, in.Status, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			inv := &Invoice{}
			var clientID sql.NullString
			var issuedAt, dueAt sql.NullTime
			if err := rows.Scan(
				&inv.ID, &inv.OrganizationID, &clientID, &inv.Number, &inv.Status,
				&inv.TotalCents, &inv.Currency, &issuedAt, &dueAt, &inv.CreatedAt, &list.Total,
			); err != nil {
				return fmt.Errorf("failed to scan invoice: %w", err)
			}
			inv.ClientID = clientID.String
			if issuedAt.Valid {
				inv.IssuedAt = &issuedAt.Time
			}
			if dueAt.Valid {
				inv.DueAt = &dueAt.Time
			}
			list.Invoices = append(list.Invoices, inv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return list, nil
}

// ListClients returns one page of the organization's clients
func (s *SQLLedgerStore) ListClients(ctx context.Context, orgID string, in ListInput) (*ClientList, error) {
	limit, offset := in.page()
	list := &ClientList{Clients: []*Client{}}

	err := s.stats.Track(ctx, "ledger.list_clients", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, organization_id, name, email, created_at, COUNT(*) OVER() AS total
			FROM clients
			WHERE organization_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, orgID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			c := &Client{}
			var email sql.NullString
			if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &email, &c.CreatedAt, &list.Total); err != nil {
				return fmt.Errorf("failed to scan client: %w", err)
			}
			c.Email = email.String
			list.Clients = append(list.Clients, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	return list, nil
}

// demoLedger is the fixed data served to demo requests
type demoLedger struct{}

var demoEpoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func (demoLedger) ListInvoices(_ context.Context, orgID string, in ListInput) (*InvoiceList, error) {
	issued := demoEpoch
	due := demoEpoch.AddDate(0, 0, 30)
	all := []*Invoice{
		{ID: "demo-inv-003", OrganizationID: orgID, ClientID: "demo-client-002", Number: "INV-0003", Status: "draft", TotalCents: 48000, Currency: "USD", CreatedAt: demoEpoch.AddDate(0, 0, 14)},
		{ID: "demo-inv-002", OrganizationID: orgID, ClientID: "demo-client-001", Number: "INV-0002", Status: "sent", TotalCents: 125000, Currency: "USD", IssuedAt: &issued, DueAt: &due, CreatedAt: demoEpoch.AddDate(0, 0, 7)},
		{ID: "demo-inv-001", OrganizationID: orgID, ClientID: "demo-client-001", Number: "INV-0001", Status: "paid", TotalCents: 99000, Currency: "USD", IssuedAt: &issued, DueAt: &due, CreatedAt: demoEpoch},
	}
	out := []*Invoice{}
	for _, inv := range all {
		if in.Status == "" || inv.Status == in.Status {
			out = append(out, inv)
		}
	}
	return &InvoiceList{Invoices: paginate(out, in), Total: len(out)}, nil
}

func (demoLedger) ListClients(_ context.Context, orgID string, in ListInput) (*ClientList, error) {
	all := []*Client{
		{ID: "demo-client-002", OrganizationID: orgID, Name: "Globex Corporation", Email: "ap@globex.example", CreatedAt: demoEpoch.AddDate(0, 0, 3)},
		{ID: "demo-client-001", OrganizationID: orgID, Name: "Initech", Email: "billing@initech.example", CreatedAt: demoEpoch},
	}
	return &ClientList{Clients: paginate(all, in), Total: len(all)}, nil
}

func paginate[T any](items []T, in ListInput) []T {
	limit, offset := in.page()
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
