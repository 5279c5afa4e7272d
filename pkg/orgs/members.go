package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/invoicer/pkg/storage"
)

// AddMember adds userID to orgID. The role is validated before anything is written.
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID string, role Role) (*Member, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	member := &Member{
		ID:             s.newID(),
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
	}

	err := s.track(ctx, "orgs.add_member", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO member (id, organization_id, user_id, role)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at
		`, member.ID, orgID, userID, role).Scan(&member.CreatedAt)
	})
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, ErrAlreadyMember
		}
		if storage.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("organization or user %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	return member, nil
}

// UpdateMemberRole changes a member's role. Invalid roles are rejected before
// the database is touched, and the last owner cannot be demoted.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID, userID string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	return s.track(ctx, "orgs.update_member_role", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		var current string
		err = tx.QueryRowContext(ctx, `
			SELECT role FROM member
			WHERE organization_id = $1 AND user_id = $2
			FOR UPDATE
		`, orgID, userID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("member %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get member: %w", err)
		}

		if Role(current) == RoleOwner && role != RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE member SET role = $3
			WHERE organization_id = $1 AND user_id = $2
		`, orgID, userID, role); err != nil {
			return fmt.Errorf("failed to update member role: %w", err)
		}

		return tx.Commit()
	})
}

// RemoveMember deletes a membership; the last owner cannot be removed
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID string) error {
	return s.track(ctx, "orgs.remove_member", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		var current string
		err = tx.QueryRowContext(ctx, `
			SELECT role FROM member
			WHERE organization_id = $1 AND user_id = $2
			FOR UPDATE
		`, orgID, userID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("member %w", ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to get member: %w", err)
		}

		if Role(current) == RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			"DELETE FROM member WHERE organization_id = $1 AND user_id = $2",
			orgID, userID,
		); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}

		return tx.Commit()
	})
}

func ensureAnotherOwner(ctx context.Context, tx *sql.Tx, orgID string) error {
	var owners int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM member WHERE organization_id = $1 AND role = 'owner'",
		orgID,
	).Scan(&owners); err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

// ListMembers returns the organization's members with their profiles, oldest first.
// Stored roles outside the closed set are reported as member.
func (s *PostgresService) ListMembers(ctx context.Context, orgID string) ([]*MemberDetail, error) {
	var members []*MemberDetail

	err := s.track(ctx, "orgs.list_members", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at,
			       u.name, u.email, u.image
			FROM member m
			INNER JOIN "user" u ON u.id = m.user_id
			WHERE m.organization_id = $1
			ORDER BY m.created_at ASC
		`, orgID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			md := &MemberDetail{}
			var role string
			var image sql.NullString
			if err := rows.Scan(
				&md.ID, &md.OrganizationID, &md.UserID, &role, &md.CreatedAt,
				&md.Name, &md.Email, &image,
			); err != nil {
				return fmt.Errorf("failed to scan member: %w", err)
			}
			md.Role, _ = NormalizeRole(role)
			md.Image = image.String
			members = append(members, md)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return members, nil
}

// GetMemberRole returns the raw stored role for (userID, orgID), or
// ErrNotMember when there is no membership row.
func (s *PostgresService) GetMemberRole(ctx context.Context, userID, orgID string) (string, error) {
	var role string
	err := s.track(ctx, "orgs.get_member_role", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx,
			"SELECT role FROM member WHERE user_id = $1 AND organization_id = $2 LIMIT 1",
			userID, orgID,
		).Scan(&role)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotMember
	}
	if err != nil {
		return "", fmt.Errorf("failed to get member role: %w", err)
	}
	return role, nil
}
