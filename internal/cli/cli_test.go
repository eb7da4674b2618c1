package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/config"
	"github.com/mandaact/backend/internal/middleware"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		tokenTTL = 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestLevelCommand(t *testing.T) {
	tests := []struct {
		xp   string
		want string
	}{
		{"0", "level 1 "},
		{"100", "level 2 "},
		{"2500", "level 6 "},
	}

	for _, tt := range tests {
		out, err := run(t, "level", tt.xp)
		if err != nil {
			t.Fatalf("level %s: %v", tt.xp, err)
		}
		if !strings.HasPrefix(out, tt.want) {
			t.Errorf("level %s = %q, want prefix %q", tt.xp, out, tt.want)
		}
	}

	for _, bad := range []string{"-5", "lots"} {
		if _, err := run(t, "level", bad); err == nil {
			t.Errorf("level %s succeeded", bad)
		}
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret")
	user := uuid.New()

	out, err := run(t, "token", user.String(), "--ttl", time.Hour.String())
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	got, err := middleware.ParseToken([]byte("cli-test-secret"), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if got != user {
		t.Errorf("token user = %s, want %s", got, user)
	}

	if _, err := run(t, "token", "not-a-uuid"); err == nil {
		t.Error("token with a bad user id succeeded")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "migrate", "level", "token", "prune-bonuses"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, sub := range []string{"up", "down", "version"} {
		if cmd, _, err := rootCmd.Find([]string{"migrate", sub}); err != nil || cmd.Name() != sub {
			t.Errorf("migrate %s not registered", sub)
		}
	}
}

func TestInvalidateCatalog(t *testing.T) {
	ctx := context.Background()

	ok, err := invalidateCatalog(ctx, config.RedisConfig{})
	if ok || err != nil {
		t.Errorf("without redis = (%v, %v), want (false, nil)", ok, err)
	}

	ok, err = invalidateCatalog(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	if ok || err == nil {
		t.Errorf("unreachable redis = (%v, %v), want an error", ok, err)
	}
}
