package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
)

func TestNewEvent(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-42")
	event := NewEvent(ctx, EventTypeRoleChange, EventStatusSuccess)

	assert.Equal(t, "req-42", event.RequestID)
	assert.Equal(t, SourceAPI, event.Source)
	assert.False(t, event.Timestamp.IsZero())
}

func TestDBLogger(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := NewDBLogger(db, nil)
	event := NewEvent(context.Background(), EventTypeRoleChange, EventStatusSuccess)
	event.ActorUserID = "user-1"
	event.OrganizationID = "org-1"
	event.ResourceType = ResourceTypeMember
	event.ResourceID = "user-2"
	event.Changes = &ChangeDetails{After: map[string]interface{}{"role": "admin"}}

	mock.ExpectQuery(`INSERT INTO audit_event`).
		WithArgs(event.Timestamp, EventTypeRoleChange, EventStatusSuccess, SourceAPI,
			"user-1", "org-1", "", ResourceTypeMember, "user-2", "", "", "",
			nil, `{"after":{"role":"admin"}}`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(7), event.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO audit_event`).WillReturnError(errors.New("disk full"))

	err = NewDBLogger(db, nil).Log(context.Background(), NewEvent(context.Background(), EventTypeOrgDelete, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	logger := NewLogrusLogger(base)

	ok := NewEvent(context.Background(), EventTypeOrgDelete, EventStatusSuccess)
	ok.OrganizationID = "org-1"
	ok.Metadata = map[string]interface{}{"name": "Acme"}
	require.NoError(t, logger.Log(context.Background(), ok))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, string(EventTypeOrgDelete), entry.Message)
	assert.Equal(t, true, entry.Data["audit"])
	assert.Equal(t, "org-1", entry.Data["organization_id"])
	assert.Equal(t, "Acme", entry.Data["meta_name"])
	assert.NotContains(t, entry.Data, "api_key_id")

	denied := NewEvent(context.Background(), EventTypeAccessDenied, EventStatusDenied)
	denied.Message = "insufficient role"
	require.NoError(t, logger.Log(context.Background(), denied))
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "insufficient role", hook.LastEntry().Message)
}

type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (r *recordingLogger) Log(_ context.Context, e *Event) error {
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingLogger) Close() error {
	r.closed = true
	return r.err
}

func TestMultiLogger(t *testing.T) {
	failing := &recordingLogger{err: errors.New("unavailable")}
	healthy := &recordingLogger{}
	m := NewMultiLogger(failing, nil, healthy)

	event := NewEvent(context.Background(), EventTypeAPIKeyRevoke, EventStatusSuccess)
	err := m.Log(context.Background(), event)
	assert.EqualError(t, err, "unavailable")
	assert.Len(t, failing.events, 1)
	assert.Len(t, healthy.events, 1, "later loggers still receive the event")

	assert.Error(t, m.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	assert.NoError(t, l.Log(context.Background(), &Event{}))
	assert.NoError(t, l.Close())
}
