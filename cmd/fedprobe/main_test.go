package main

import (
	"strings"
	"testing"
	"time"
)

func TestMigrateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("FEDPROBE_DATABASE_URL", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"migrate"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "database-url") {
		t.Errorf("Execute() error = %v, want missing database url", err)
	}
}

func TestProbeRejectsUnknownNetwork(t *testing.T) {
	t.Setenv("FEDPROBE_DATABASE_URL", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"probe", "alice@example.org", "--network", "gopher", "--no-cache"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "gopher") {
		t.Errorf("Execute() error = %v, want unknown network", err)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("FEDPROBE_TIMEOUT", "5s")
	if got := envDuration("FEDPROBE_TIMEOUT", time.Minute); got != 5*time.Second {
		t.Errorf("envDuration = %v, want 5s", got)
	}
	t.Setenv("FEDPROBE_TIMEOUT", "soon")
	if got := envDuration("FEDPROBE_TIMEOUT", time.Minute); got != time.Minute {
		t.Errorf("envDuration with bad value = %v, want fallback", got)
	}
}
