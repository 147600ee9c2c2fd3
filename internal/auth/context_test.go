package auth

import (
	"context"
	"testing"
)

func TestAccountCan(t *testing.T) {
	a := NewAccount(7, []string{"runner"},
		Permission{Component: "piliskor_qr.gps", Action: "read"})

	if !a.Can("piliskor_qr.gps", "read") {
		t.Fatalf("expected gps/read to be granted")
	}
	if a.Can("piliskor_qr.qr", "read") {
		t.Fatalf("qr/read must not be granted")
	}
	if a.Can("piliskor_qr", "gps.read") {
		t.Fatalf("component/action split must not be ambiguous")
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := UserID(context.Background()); ok {
		t.Fatalf("empty context reported a user")
	}

	ctx := WithAccount(context.Background(), NewAccount(42, nil))
	id, ok := UserID(ctx)
	if !ok || id != 42 {
		t.Fatalf("UserID = %d, %v; want 42, true", id, ok)
	}

	ctx = WithAccount(context.Background(), Account{})
	if _, ok := UserID(ctx); ok {
		t.Fatalf("anonymous account reported a user")
	}
}
