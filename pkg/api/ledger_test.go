package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockLedger(t *testing.T) (*SQLLedgerStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLLedgerStore(db, nil), mock
}

func TestSQLLedgerStore_ListInvoices(t *testing.T) {
	store, mock := newMockLedger(t)
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM invoices\s+WHERE organization_id = \$1 AND \(\$2 = '' OR status = \$2\)`).
		WithArgs("org-1", "sent", 200, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "organization_id", "client_id", "number", "status", "total_cents", "currency",
			"issued_at", "due_at", "created_at", "total",
		}).
			AddRow("inv-1", "org-1", "cl-1", "INV-1", "sent", 1500, "USD", created, nil, created, 7).
			AddRow("inv-2", "org-1", nil, "INV-2", "sent", 900, "EUR", nil, nil, created, 7))

	list, err := store.ListInvoices(context.Background(), "org-1", ListInput{Limit: 500, Offset: -3, Status: "sent"})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 2)
	assert.Equal(t, 7, list.Total)
	assert.Equal(t, "cl-1", list.Invoices[0].ClientID)
	require.NotNil(t, list.Invoices[0].IssuedAt)
	assert.Nil(t, list.Invoices[0].DueAt)
	assert.Empty(t, list.Invoices[1].ClientID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedgerStore_ListClients(t *testing.T) {
	t.Run("empty page is not nil", func(t *testing.T) {
		store, mock := newMockLedger(t)
		mock.ExpectQuery(`FROM clients\s+WHERE organization_id = \$1`).
			WithArgs("org-1", defaultPageSize, 0).
			WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "email", "created_at", "total"}))

		list, err := store.ListClients(context.Background(), "org-1", ListInput{})
		require.NoError(t, err)
		assert.NotNil(t, list.Clients)
		assert.Zero(t, list.Total)
	})

	t.Run("query error is wrapped", func(t *testing.T) {
		store, mock := newMockLedger(t)
		boom := errors.New("connection reset")
		mock.ExpectQuery(`FROM clients`).WillReturnError(boom)

		_, err := store.ListClients(context.Background(), "org-1", ListInput{})
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "failed to list clients")
	})
}

func TestDemoLedger(t *testing.T) {
	ctx := context.Background()

	list, err := demoLedger{}.ListInvoices(ctx, "demo-org", ListInput{Status: "paid"})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 1)
	assert.Equal(t, "INV-0001", list.Invoices[0].Number)

	list, err = demoLedger{}.ListInvoices(ctx, "demo-org", ListInput{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, list.Total)
	require.Len(t, list.Invoices, 1)
	assert.Equal(t, "INV-0002", list.Invoices[0].Number)

	clients, err := demoLedger{}.ListClients(ctx, "demo-org", ListInput{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, clients.Clients)
	assert.Equal(t, 2, clients.Total)
}
