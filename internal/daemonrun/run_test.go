package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/testsupport"
)

func TestAlertDestinationFollowsSetting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cat := testsupport.MustOpenCatalog(t, cfg)
	resolve := alertDestination(cat, logging.NewNop())
	ctx := context.Background()

	if got := resolve(ctx); got != "" {
		t.Fatalf("expected empty destination by default, got %q", got)
	}
	if err := cat.SetSetting(ctx, catalog.SettingAlertDestination, "https://ntfy.example/alerts"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if got := resolve(ctx); got != "https://ntfy.example/alerts" {
		t.Fatalf("expected configured destination, got %q", got)
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadenced.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
}
