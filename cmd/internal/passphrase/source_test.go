package passphrase

import (
	"strings"
	"testing"
)

func TestSourceReadsEnvOnce(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "correct horse")
	src := NewSource("VAULT_TEST_PASSPHRASE", "operator")
	got, err := src.Get()
	if err != nil || got != "correct horse" {
		t.Fatalf("unexpected passphrase %q, err %v", got, err)
	}
	t.Setenv("VAULT_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("passphrase not cached: %q", again)
	}
}

func TestSourceRejectsBlankEnv(t *testing.T) {
	t.Setenv("VAULT_TEST_PASSPHRASE", "   ")
	_, err := NewSource("VAULT_TEST_PASSPHRASE", "wallet").Get()
	if err == nil || !strings.Contains(err.Error(), "set but empty") {
		t.Fatalf("expected blank env error, got %v", err)
	}
}
