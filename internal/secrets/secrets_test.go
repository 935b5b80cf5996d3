package secrets_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flywheel/internal/secrets"
)

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.toml")
	body := "SLACK_WEBHOOK = \"https://hooks.example.com/T123\"\nCOVERAGE_TOKEN = \"file-token\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write secrets: %v", err)
	}
	t.Setenv("FLYWHEEL_SECRET_COVERAGE_TOKEN", "env-token")

	store, err := secrets.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got, _ := store.Get("SLACK_WEBHOOK"); got != "https://hooks.example.com/T123" {
		t.Fatalf("unexpected webhook value: %q", got)
	}
	if got, _ := store.Get("COVERAGE_TOKEN"); got != "env-token" {
		t.Fatalf("expected env override, got %q", got)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	store, err := secrets.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := store.Get("ANYTHING"); ok {
		t.Fatal("expected empty store")
	}
}

func TestResolveSubstitutesReferences(t *testing.T) {
	store := secrets.WithValues(map[string]string{"SLACK_WEBHOOK": "https://hooks.example.com/T123"})

	out, err := store.Resolve("curl -s ${{ secrets.SLACK_WEBHOOK }}")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if out != "curl -s https://hooks.example.com/T123" {
		t.Fatalf("unexpected resolution: %q", out)
	}
}

func TestResolveFailsOnUnknownSecret(t *testing.T) {
	store := secrets.Empty()
	if _, err := store.Resolve("token=${{ secrets.MISSING }}"); err == nil {
		t.Fatal("expected error for unknown secret")
	} else if !strings.Contains(err.Error(), "MISSING") {
		t.Fatalf("expected secret name in error, got %v", err)
	}
}

func TestResolveMapNamesOffendingKey(t *testing.T) {
	store := secrets.Empty()
	_, err := store.ResolveMap(map[string]string{"HOOK": "${{ secrets.NOPE }}"})
	if err == nil || !strings.Contains(err.Error(), "HOOK") {
		t.Fatalf("expected env key in error, got %v", err)
	}
}

func TestResolveLeavesPlainStringsAlone(t *testing.T) {
	store := secrets.Empty()
	out, err := store.Resolve("PYTHONUTF8=1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if out != "PYTHONUTF8=1" {
		t.Fatalf("unexpected output: %q", out)
	}
}
