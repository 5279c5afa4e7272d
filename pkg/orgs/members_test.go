package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMember(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectQuery(`INSERT INTO member \(id, organization_id, user_id, role\)`).
			WithArgs("id-1", "org-1", "user-2", RoleAdmin).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

		member, err := service.AddMember(ctx, "org-1", "user-2", RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, member.Role)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid role never reaches the database", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		_, err := service.AddMember(ctx, "org-1", "user-2", Role("superuser"))
		assert.ErrorIs(t, err, ErrInvalidRole)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectQuery(`INSERT INTO member`).WillReturnError(&pq.Error{Code: "23505"})

		_, err := service.AddMember(ctx, "org-1", "user-2", RoleMember)
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})

	t.Run("missing org or user", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectQuery(`INSERT INTO member`).WillReturnError(&pq.Error{Code: "23503"})

		_, err := service.AddMember(ctx, "org-1", "user-2", RoleMember)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("promote member", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM member\s+WHERE organization_id = \$1 AND user_id = \$2\s+FOR UPDATE`).
			WithArgs("org-1", "user-2").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("member"))
		mock.ExpectExec(`UPDATE member SET role = \$3`).
			WithArgs("org-1", "user-2", RoleAdmin).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, service.UpdateMemberRole(ctx, "org-1", "user-2", RoleAdmin))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid role rejected before write", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		err := service.UpdateMemberRole(ctx, "org-1", "user-2", Role("manager"))
		assert.ErrorIs(t, err, ErrInvalidRole)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("last owner cannot be demoted", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM member`).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM member WHERE organization_id = \$1 AND role = 'owner'`).
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		err := service.UpdateMemberRole(ctx, "org-1", "user-1", RoleAdmin)
		assert.ErrorIs(t, err, ErrLastOwner)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing member", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM member`).
			WillReturnRows(sqlmock.NewRows([]string{"role"}))
		mock.ExpectRollback()

		err := service.UpdateMemberRole(ctx, "org-1", "ghost", RoleAdmin)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()

	t.Run("owner removed when another owner exists", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT role FROM member`).
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("owner"))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM member`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec(`DELETE FROM member WHERE organization_id = \$1 AND user_id = \$2`).
			WithArgs("org-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, service.RemoveMember(ctx, "org-1", "user-1"))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListMembers(t *testing.T) {
	service, mock, _ := newMockService(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "organization_id", "user_id", "role", "created_at", "name", "email", "image"}).
		AddRow("m1", "org-1", "u1", "owner", now, "Ada", "ada@example.com", "https://img/ada").
		AddRow("m2", "org-1", "u2", "accountant", now, "Bob", "bob@example.com", nil)
	mock.ExpectQuery(`FROM member m\s+INNER JOIN "user" u ON u.id = m.user_id\s+WHERE m.organization_id = \$1`).
		WithArgs("org-1").
		WillReturnRows(rows)

	members, err := service.ListMembers(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, RoleOwner, members[0].Role)
	assert.Equal(t, "https://img/ada", members[0].Image)
	assert.Equal(t, RoleMember, members[1].Role)
	assert.Empty(t, members[1].Image)
}

func TestGetMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectQuery(`SELECT role FROM member WHERE user_id = \$1 AND organization_id = \$2 LIMIT 1`).
			WithArgs("u1", "org-1").
			WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("admin"))

		role, err := service.GetMemberRole(ctx, "u1", "org-1")
		require.NoError(t, err)
		assert.Equal(t, "admin", role)
	})

	t.Run("no row", func(t *testing.T) {
		service, mock, _ := newMockService(t)
		mock.ExpectQuery(`SELECT role FROM member`).
			WillReturnRows(sqlmock.NewRows([]string{"role"}))

		_, err := service.GetMemberRole(ctx, "u1", "org-1")
		assert.ErrorIs(t, err, ErrNotMember)
	})
}
