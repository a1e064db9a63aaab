package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"tenant", "create"},
		{"reconcile"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("Find(%v): %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, cmd.Name())
		}
	}
}

func TestMigrateCmd_DefaultSchema(t *testing.T) {
	cmd, _, err := rootCmd().Find([]string{"migrate", "up"})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := cmd.Flags().GetString("schema")
	if got != "tenant_default" {
		t.Errorf("schema default = %q, want tenant_default", got)
	}
}

func TestReconcileCmd_Flags(t *testing.T) {
	cmd, _, err := rootCmd().Find([]string{"reconcile"})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Flags().Lookup("repair") == nil {
		t.Error("expected --repair flag")
	}
	if cmd.Flags().Lookup("tenant") == nil {
		t.Error("expected --tenant flag")
	}
}

func TestTenantCreate_RequiresName(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"tenant", "create"})
	root.SilenceErrors = true
	if err := root.Execute(); err == nil {
		t.Fatal("expected error without --name")
	}
}

func TestTenantCreate_RejectsBadName(t *testing.T) {
	root := rootCmd()
	root.SetArgs([]string{"tenant", "create", "--name", "bad;name"})
	root.SilenceErrors = true
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for invalid tenant id")
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		l := newLogger(&config.Config{LogLevel: tt.in, Env: "production"})
		if l.GetLevel() != tt.want {
			t.Errorf("newLogger(%q) level = %v, want %v", tt.in, l.GetLevel(), tt.want)
		}
	}
}

func TestOpenBackend_Memory(t *testing.T) {
	cfg := &config.Config{StoreBackend: config.StoreMemory}
	be, err := openBackend(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("openBackend: %v", err)
	}
	defer be.Close()
	if be.pool != nil {
		t.Error("memory backend should not open a pool")
	}
	if !be.tx.Atomic() {
		t.Error("memory backend should run atomic units of work")
	}
}

func TestOpenBackend_Unknown(t *testing.T) {
	if _, err := openBackend(context.Background(), &config.Config{StoreBackend: "mysql"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
