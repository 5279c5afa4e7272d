// Package rbac decides what an authenticated member may do inside an
// organization.
//
// # Permission table
//
// Permissions are "resource:action" pairs over invoices, clients and
// settings. A static table grants them to four access levels, each a
// superset of the next:
//
//	admin       every permission
//	manager     invoices create/read/update/approve, clients create/read/update, settings:read
//	accountant  invoices create/read/update, clients:read
//	viewer      invoices:read, clients:read
//
// HasPermission is a pure lookup into that table.
//
// # Membership roles
//
// Memberships store one of owner, admin or member. AccessLevelFor maps them
// onto the table (owner to admin, admin to manager, member to accountant).
// Rows written before the role constraint may hold manager, accountant or
// viewer and are taken as is. Anything else, and a missing membership,
// resolves to viewer.
//
// # Checking
//
//	checker := rbac.NewPermissionChecker(orgService, cfg.Permissions.RoleCacheSize, cfg.Permissions.RoleCacheTTL)
//	err := checker.RequirePermission(ctx, rbac.Subject{UserID: uid, OrganizationID: oid}, rbac.InvoicesRead)
//
// RequirePermission returns apperr conditions: Unauthorized without a user,
// Forbidden when the level (or, for API keys, the key scope) lacks the
// permission, Internal when the role lookup fails. Resolved levels are kept in
// an expiring LRU cache.
package rbac
