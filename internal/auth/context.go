// internal/auth/context.go
//
// The acting account, carried on the request context.
//
// Usage
// -----
//
//	// acl.LoadAccount attaches the account after session resolution.
//	ctx = auth.WithAccount(ctx, acct)
//
//	// Read plugins and handlers retrieve it.
//	acct, ok := auth.FromContext(ctx)
//	if acct.Can("piliskor_qr.gps", "read") { … }
//
// Notes
// -----
// • Account is a value type.  Nothing downstream mutates it.
// • Can is a pure in-memory lookup; permissions are loaded once per request.

package auth

import "context"

// Account is the identity performing an action.
type Account struct {
	ID    int64
	Roles []string
	perms map[string]struct{}
}

// NewAccount builds an Account whose permission set is the given
// component/action pairs.
func NewAccount(id int64, roles []string, perms ...Permission) Account {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p.key()] = struct{}{}
	}
	return Account{ID: id, Roles: roles, perms: set}
}

// Permission grants one action on one component.
type Permission struct {
	Component string
	Action    string
}

func (p Permission) key() string { return p.Component + "/" + p.Action }

// Can reports whether the account holds component/action.
func (a Account) Can(component, action string) bool {
	_, ok := a.perms[Permission{Component: component, Action: action}.key()]
	return ok
}

// IsAnonymous is true for the zero Account.
func (a Account) IsAnonymous() bool { return a.ID == 0 }

// accountKey is unexported to avoid context-key collisions.
type accountKey struct{}

// WithAccount returns a new context carrying acct.
func WithAccount(ctx context.Context, acct Account) context.Context {
	return context.WithValue(ctx, accountKey{}, acct)
}

// FromContext extracts the account.  It returns (Account{}, false) when
// none is set.
func FromContext(ctx context.Context) (Account, bool) {
	a, ok := ctx.Value(accountKey{}).(Account)
	return a, ok
}

// UserID is a shorthand for callers that only need the numeric id.
func UserID(ctx context.Context) (int64, bool) {
	a, ok := FromContext(ctx)
	if !ok || a.IsAnonymous() {
		return 0, false
	}
	return a.ID, true
}
