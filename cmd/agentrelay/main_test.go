package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/runframe/agentrelay/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestHashKey(t *testing.T) {
	hash, err := run(t, "hash-key", "s3cret")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	v := auth.NewAgentVerifier(hash)
	if err := v.Verify("s3cret"); err != nil {
		t.Errorf("printed hash does not verify: %v", err)
	}
	if err := v.Verify("other"); err == nil {
		t.Error("expected a different key to be rejected")
	}
}

func TestToken_RequiresSecret(t *testing.T) {
	t.Setenv("RELAY_JWT_SECRET", "")
	t.Setenv("RELAY_CONFIG", "")
	if _, err := run(t, "token"); err == nil {
		t.Fatal("expected an error without RELAY_JWT_SECRET")
	}
}

func TestToken_Validates(t *testing.T) {
	secret := "cli-test-secret-cli-test-secret"
	t.Setenv("RELAY_JWT_SECRET", secret)
	t.Setenv("RELAY_CONFIG", "")
	token, err := run(t, "token", "--label", "kiosk")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.NewService(secret).ValidateToken(token)
	if err != nil {
		t.Fatalf("minted token does not validate: %v", err)
	}
	if claims.Label != "kiosk" {
		t.Errorf("expected label kiosk, got %q", claims.Label)
	}
}

func TestServe_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "")
	t.Setenv("RELAY_PATH", "/api")
	if _, err := run(t, "serve"); err == nil {
		t.Fatal("expected serve to refuse a path that collides with the API")
	}
}

func TestSecret(t *testing.T) {
	a, err := run(t, "secret")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := run(t, "secret")
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Error("expected distinct secrets")
	}
}
