package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/invoicer/pkg/audit"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/config"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/orgs"
	"github.com/platinummonkey/invoicer/pkg/rbac"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

// env holds what the commands need from the outside world
type env struct {
	openDB   func(ctx context.Context) (*sql.DB, error)
	logger   *logrus.Logger
	now      func() time.Time
	operator string
}

func defaultEnv() *env {
	logger := observability.NewLogger(os.Getenv("INVOICER_LOG_LEVEL"), "text", os.Stderr)
	return &env{
		openDB: func(ctx context.Context) (*sql.DB, error) {
			cfg, err := config.LoadConfig()
			if err != nil {
				return nil, err
			}
			return storage.OpenPostgres(ctx, cfg.Database)
		},
		logger:   logger,
		now:      time.Now,
		operator: os.Getenv("USER"),
	}
}

// record writes a CLI audit event; a failure is reported but does not undo the change
func (e *env) record(ctx context.Context, db *sql.DB, event *audit.Event) {
	event.Source = audit.SourceCLI
	if e.operator != "" {
		if event.Metadata == nil {
			event.Metadata = map[string]interface{}{}
		}
		event.Metadata["operator"] = e.operator
	}
	if err := audit.NewDBLogger(db, nil).Log(ctx, event); err != nil {
		e.logger.WithError(err).WithField("event_type", event.EventType).Warn("failed to record audit event")
	}
}

// withDB opens the database for the duration of fn
func (e *env) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := e.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, db)
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:   "invoicer-admin",
		Short: "Operator tasks for the invoicer API",
		Long: `invoicer-admin runs maintenance tasks against the invoicer database.

Configuration is read the same way as the server: defaults, then the YAML file
named by INVOICER_CONFIG_FILE, then INVOICER_* environment variables.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newMigrateCommand(e),
		newMemberCommand(e),
		newAPIKeyCommand(e),
		newSessionsCommand(e),
	)
	return root
}

func newMigrateCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				if err := storage.RunMigrations(ctx, db, e.logger); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newMemberCommand(e *env) *cobra.Command {
	member := &cobra.Command{
		Use:   "member",
		Short: "Manage organization memberships",
	}

	var orgID, userID, role string
	setRole := &cobra.Command{
		Use:   "set-role",
		Short: "Change a member's role",
		Long: `Change a member's role within an organization.

The role must be one of owner, admin or member. It is checked before the
database is opened. The last owner of an organization cannot be demoted.
Running servers pick up the change once their role cache entry expires.`,
		Example: "  invoicer-admin member set-role --org org_123 --user user_456 --role admin",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := orgs.ParseRole(role)
			if err != nil {
				return fmt.Errorf("%w (want one of %s)", err, joinRoles())
			}
			return e.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				svc := orgs.NewPostgresService(db, orgs.WithLogger(e.logger))
				if err := svc.UpdateMemberRole(ctx, orgID, userID, parsed); err != nil {
					return err
				}
				event := audit.NewEvent(ctx, audit.EventTypeRoleChange, audit.EventStatusSuccess)
				event.OrganizationID = orgID
				event.ResourceType = audit.ResourceTypeMember
				event.ResourceID = userID
				event.Changes = &audit.ChangeDetails{After: map[string]interface{}{"role": string(parsed)}}
				e.record(ctx, db, event)
				fmt.Fprintf(cmd.OutOrStdout(), "user %s is now %s of %s\n", userID, parsed, orgID)
				return nil
			})
		},
	}
	setRole.Flags().StringVar(&orgID, "org", "", "organization id")
	setRole.Flags().StringVar(&userID, "user", "", "user id")
	setRole.Flags().StringVar(&role, "role", "", "owner, admin or member")
	for _, f := range []string{"org", "user", "role"} {
		_ = setRole.MarkFlagRequired(f)
	}

	member.AddCommand(setRole)
	return member
}

func joinRoles() string {
	names := make([]string, 0, len(orgs.Roles()))
	for _, r := range orgs.Roles() {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}

func newAPIKeyCommand(e *env) *cobra.Command {
	apikey := &cobra.Command{
		Use:   "apikey",
		Short: "Issue and revoke API keys",
	}

	var (
		userID, orgID, name string
		permissions         []string
		expiresIn           time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key",
		Long: `Issue a new API key for a user.

The key can only exercise permissions listed with --permission, and only those
its owner's role grants. The secret is printed once and cannot be recovered.`,
		Example: "  invoicer-admin apikey create --user user_456 --org org_123 --name ci --permission invoices:read",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := parsePermissions(permissions)
			if err != nil {
				return err
			}
			req := &auth.CreateKeyRequest{
				UserID:         userID,
				OrganizationID: orgID,
				Name:           name,
				Permissions:    perms,
			}
			if expiresIn > 0 {
				exp := e.now().Add(expiresIn)
				req.ExpiresAt = &exp
			}

			return e.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				key, secret, err := auth.NewAPIKeyStore(db, nil, e.logger).CreateKey(ctx, req)
				if err != nil {
					return err
				}
				event := audit.NewEvent(ctx, audit.EventTypeAPIKeyCreate, audit.EventStatusSuccess)
				event.ActorUserID = key.UserID
				event.OrganizationID = key.OrganizationID
				event.APIKeyID = key.ID
				event.ResourceType = audit.ResourceTypeAPIKey
				event.ResourceID = key.ID
				event.Metadata = map[string]interface{}{"name": key.Name, "permissions": key.Permissions}
				e.record(ctx, db, event)
				printKey(cmd.OutOrStdout(), key, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&userID, "user", "", "owning user id")
	create.Flags().StringVar(&orgID, "org", "", "organization id the key is meant for")
	create.Flags().StringVar(&name, "name", "", "human readable key name")
	create.Flags().StringSliceVar(&permissions, "permission", nil, "permission granted to the key, repeatable (resource:action)")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "key lifetime; zero never expires")
	_ = create.MarkFlagRequired("user")
	_ = create.MarkFlagRequired("name")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Long: `Revoke an API key by id. Servers stop accepting it once any cached
resolution of the key expires.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				err := auth.NewAPIKeyStore(db, nil, e.logger).RevokeKey(ctx, args[0])
				if errors.Is(err, auth.ErrKeyNotFound) {
					return fmt.Errorf("no active api key with id %s", args[0])
				}
				if err != nil {
					return err
				}
				event := audit.NewEvent(ctx, audit.EventTypeAPIKeyRevoke, audit.EventStatusSuccess)
				event.APIKeyID = args[0]
				event.ResourceType = audit.ResourceTypeAPIKey
				event.ResourceID = args[0]
				e.record(ctx, db, event)
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}

	apikey.AddCommand(create, revoke)
	return apikey
}

func parsePermissions(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		p, err := rbac.ParsePermission(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[p.String()]; dup {
			continue
		}
		seen[p.String()] = struct{}{}
		out = append(out, p.String())
	}
	return out, nil
}

func printKey(w io.Writer, key *auth.APIKey, secret string) {
	fmt.Fprintf(w, "id:          %s\n", key.ID)
	fmt.Fprintf(w, "name:        %s\n", key.Name)
	fmt.Fprintf(w, "prefix:      %s\n", key.Prefix)
	fmt.Fprintf(w, "permissions: %s\n", strings.Join(key.Permissions, ", "))
	if key.ExpiresAt != nil {
		fmt.Fprintf(w, "expires:     %s\n", key.ExpiresAt.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%s\n\nStore this key now; it will not be shown again.\n", secret)
}

func newSessionsCommand(e *env) *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain login sessions",
	}

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				n, err := auth.NewSQLSessionStore(db).PurgeExpired(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired sessions\n", n)
				return nil
			})
		},
	}

	sessions.AddCommand(purge)
	return sessions
}
