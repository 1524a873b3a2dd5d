package main

import (
	"context"
	"testing"

	"sysaccess.org/internal/access"
)

func TestSeedBootstrapAdmin(t *testing.T) {
	ctx := context.Background()
	mem := access.NewInMemory()
	if err := seedBootstrapAdmin(ctx, mem, "admin"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	u, err := mem.User(ctx, "admin")
	if err != nil || !u.Active || !u.Admin {
		t.Fatalf("unexpected admin %+v %v", u, err)
	}
	ra, err := mem.Assignment(ctx, "admin")
	if err != nil || ra.Role != access.RoleSuperAdmin {
		t.Fatalf("unexpected assignment %+v %v", ra, err)
	}

	empty := access.NewInMemory()
	if err := seedBootstrapAdmin(ctx, empty, ""); err != nil {
		t.Fatal(err)
	}
	if users, _ := empty.ListUsers(ctx); len(users) != 0 {
		t.Fatalf("empty id must not seed, got %+v", users)
	}
}
