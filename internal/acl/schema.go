// internal/acl/schema.go
//
// DDL for the RBAC tables queried by store.go.  Roles and grants are
// managed by the platform; this service only reads them, but a database
// built with database.auto_migrate needs the tables to exist before the
// first X-Account-ID request.

package acl

// Schema returns CREATE TABLE IF NOT EXISTS statements for role, role_acl,
// and user_role.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS role (
    id      BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
    name    VARCHAR(64)     NOT NULL UNIQUE,
    enabled BOOLEAN         NOT NULL DEFAULT TRUE
)`,
		`CREATE TABLE IF NOT EXISTS role_acl (
    role_id   BIGINT UNSIGNED NOT NULL,
    component VARCHAR(128)    NOT NULL,
    action    VARCHAR(32)     NOT NULL,
    permitted BOOLEAN         NOT NULL DEFAULT TRUE,
    PRIMARY KEY (role_id, component, action)
)`,
		`CREATE TABLE IF NOT EXISTS user_role (
    user_id BIGINT UNSIGNED NOT NULL,
    role_id BIGINT UNSIGNED NOT NULL,
    PRIMARY KEY (user_id, role_id)
)`,
	}
}
