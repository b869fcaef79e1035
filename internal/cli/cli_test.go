package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func testConfigFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "docwebhooks.yaml", `
database:
  path: `+filepath.Join(dir, "test.db")+`
doctypes:
  - name: User
  - name: Sales Invoice
    submittable: true
auth:
  jwt:
    secret: this-is-a-very-long-secret-key-for-jwt-signing
`)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "docwebhooks version")
}

func TestWebhooksValidateCommand(t *testing.T) {
	cfgPath := testConfigFile(t)
	dir := t.TempDir()

	good := writeFile(t, dir, "good.yaml", `
webhooks:
  - name: invoice-submitted
    doctype: Sales Invoice
    event: on_submit
    request_url: https://example.com/invoices
`)
	_, err := execute(t, "--config", cfgPath, "webhooks", "validate", good)
	require.NoError(t, err)

	bad := writeFile(t, dir, "bad.yaml", `
webhooks:
  - name: user-submitted
    doctype: User
    event: on_submit
    request_url: https://example.com/users
  - name: fine
    doctype: User
    event: after_insert
    request_url: https://example.com/users
`)
	_, err = execute(t, "--config", cfgPath, "webhooks", "validate", bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 2 definitions invalid")
	require.Contains(t, err.Error(), "user-submitted")
}

func TestTokenCommand(t *testing.T) {
	cfgPath := testConfigFile(t)

	out, err := execute(t, "--config", cfgPath, "token", "--subject", "erp-sync")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	token := lines[len(lines)-1]
	require.Equal(t, 2, strings.Count(token, "."), "expected a JWT, got %q", token)
}

func TestSetupLogging(t *testing.T) {
	cfg := config.Default().Logging
	cfg.Format = "json"
	cfg.Output = filepath.Join(t.TempDir(), "out.log")
	require.NoError(t, setupLogging(&cfg))
	t.Cleanup(func() { _ = setupLogging(nil) })

	cfg.Level = "loud"
	require.Error(t, setupLogging(&cfg))
}

func TestSeedWatcher(t *testing.T) {
	dir := t.TempDir()
	seed := writeFile(t, dir, "webhooks.yaml", "webhooks: []\n")

	changed := make(chan string, 4)
	sw, err := NewSeedWatcher(seed, func(path string) {
		changed <- path
	})
	require.NoError(t, err)
	sw.Start(t.Context())
	t.Cleanup(func() { _ = sw.Stop() })

	writeFile(t, dir, "other.yaml", "ignored\n")
	writeFile(t, dir, "webhooks.yaml", "webhooks: []\n# edited\n")

	select {
	case path := <-changed:
		require.Equal(t, "webhooks.yaml", filepath.Base(path))
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification for the seed file")
	}

	select {
	case path := <-changed:
		require.Equal(t, "webhooks.yaml", filepath.Base(path), "only the seed file should be reported")
	case <-time.After(500 * time.Millisecond):
	}
}
