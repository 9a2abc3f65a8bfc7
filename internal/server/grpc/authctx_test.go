package grpcserver

import (
	"context"
	"testing"
)

func TestWithUser_And_UserFromCtx(t *testing.T) {
	t.Parallel()

	if u, ok := UserFromCtx(context.Background()); ok || u != "" {
		t.Fatalf("expected no user in empty ctx")
	}

	ctx := WithUser(context.Background(), "alice")
	got, ok := UserFromCtx(ctx)
	if !ok || got != "alice" {
		t.Fatalf("mismatch: got %q ok=%v", got, ok)
	}

	if _, ok := UserFromCtx(WithUser(context.Background(), "")); ok {
		t.Fatalf("expected miss on empty user")
	}

	type otherKey string
	bad := context.WithValue(context.Background(), otherKey("collab.user"), "alice")
	if _, ok := UserFromCtx(bad); ok {
		t.Fatalf("expected miss on foreign key type")
	}
}
