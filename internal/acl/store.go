// internal/acl/store.go
//
// Small query helpers for Role-Based Access Control.
//
// Context
// -------
// The ACL model lives next to the run and read tables (DDL in schema.go):
//
//	role        (id PK, name, enabled)
//	role_acl    (role_id, component, action, permitted)
//	user_role   (user_id, role_id)
//
// Read plugins answer access questions on every navigation and permission
// check, so they must not hit the database each time.  The middleware
// therefore asks two questions once per request:
//  1. Which *role names* does user X have?              → `UserRoles()`
//  2. Which component/action pairs do those roles allow? → `Permissions()`
//
// and hands the answer to auth.Account, whose Can() is a map lookup.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package acl

import (
	"context"
	"database/sql"
	"strings"

	"github.com/yanizio/piliskor/internal/auth"
)

// UserRoles returns the role *names* bound to userID.  Disabled roles are
// filtered out.
func UserRoles(ctx context.Context, db *sql.DB, userID int64) ([]string, error) {
	const q = `SELECT r.name
                 FROM user_role ur
                 JOIN role r ON r.id = ur.role_id
                WHERE ur.user_id = ? AND r.enabled = TRUE`

	rows, err := db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]string, 0, 4)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// Permissions returns every component/action pair permitted to *any* of
// roles, in one query using IN (? … ?).
//
// Empty roles slice returns nil, nil.
func Permissions(ctx context.Context, db *sql.DB, roles []string) ([]auth.Permission, error) {
	if len(roles) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(roles))
	for _, r := range roles {
		args = append(args, r)
	}

	q := `SELECT DISTINCT ra.component, ra.action
            FROM role_acl ra
            JOIN role r ON r.id = ra.role_id
           WHERE r.name IN (` + placeholders(len(roles)) + `)
             AND r.enabled = TRUE
             AND ra.permitted = TRUE`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Permission
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.Component, &p.Action); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadAccount resolves roles and permissions for userID.
func LoadAccount(ctx context.Context, db *sql.DB, userID int64) (auth.Account, error) {
	roles, err := UserRoles(ctx, db, userID)
	if err != nil {
		return auth.Account{}, err
	}
	perms, err := Permissions(ctx, db, roles)
	if err != nil {
		return auth.Account{}, err
	}
	return auth.NewAccount(userID, roles, perms...), nil
}

// placeholders returns "?,?,…" with n marks.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
