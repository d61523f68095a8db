package main

import (
	"context"
	"errors"
	"testing"
)

func TestServerRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("FATHOM_CONFIG", "")

	err := runServer(context.Background(), "127.0.0.1:0", "", false, false)
	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("got %v, want exitError", err)
	}
	if exit.code != exitConfig {
		t.Errorf("exit code = %d, want %d", exit.code, exitConfig)
	}
}

func TestMissingConfigFileIsConfigError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	err := runServer(context.Background(), "", "/nonexistent/fathom.yaml", false, false)
	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("got %v, want exitError", err)
	}
	if exit.code != exitConfig {
		t.Errorf("exit code = %d, want %d", exit.code, exitConfig)
	}
}
