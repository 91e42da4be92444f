package vault_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/portalwatch/dbopen"
	"github.com/hazyhaar/portalwatch/store"
	"github.com/hazyhaar/portalwatch/vault"
)

func setupVault(t *testing.T) *vault.Vault {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	v, err := vault.New(db, filepath.Join(t.TempDir(), "vault.key"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestVault_RoundTrip(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	has, err := v.HasCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("fresh vault reports credentials")
	}

	creds := vault.Credentials{Username: "user@example.com", Password: "s3cret"}
	if err := v.Put(ctx, creds); err != nil {
		t.Fatal(err)
	}

	has, err = v.HasCredentials(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Fatal("vault reports no credentials after Put")
	}

	got, err := v.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != creds {
		t.Fatalf("got %+v, want %+v", got.Username, creds.Username)
	}
}

func TestVault_PutReplaces(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	if err := v.Put(ctx, vault.Credentials{Username: "a", Password: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := v.Put(ctx, vault.Credentials{Username: "b", Password: "2"}); err != nil {
		t.Fatal(err)
	}

	got, err := v.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "b" || got.Password != "2" {
		t.Fatalf("got %+v", got.Username)
	}
}

func TestVault_Delete(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	if err := v.Put(ctx, vault.Credentials{Username: "a", Password: "1"}); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := v.Get(ctx); !errors.Is(err, vault.ErrNoCredentials) {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}

	// Deleting an empty vault is a no-op.
	if err := v.Delete(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestVault_RejectsEmptyFields(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	if err := v.Put(ctx, vault.Credentials{Username: "a"}); err == nil {
		t.Fatal("accepted empty password")
	}
	if err := v.Put(ctx, vault.Credentials{Password: "1"}); err == nil {
		t.Fatal("accepted empty username")
	}
}

func TestCredentials_StringRedacts(t *testing.T) {
	c := vault.Credentials{Username: "user", Password: "hunter2"}
	s := c.String()
	if strings.Contains(s, "hunter2") {
		t.Fatalf("password leaked in String(): %s", s)
	}
	if !strings.Contains(s, "user") {
		t.Fatalf("username missing from String(): %s", s)
	}
}
