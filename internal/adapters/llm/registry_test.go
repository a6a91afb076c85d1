package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func TestRegistry_Builtins(t *testing.T) {
	r := NewRegistry()
	got := r.List()
	if len(got) != 2 || got[0] != ProviderEcho || got[1] != ProviderOpenAI {
		t.Fatalf("List() = %v", got)
	}
	if !r.Has("OpenAI") {
		t.Error("Has should be case-insensitive")
	}
}

func TestRegistry_NewEcho(t *testing.T) {
	gen, err := NewRegistry().New(Config{Provider: "echo"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := gen.Generate(context.Background(), "same text")
	if err != nil || out != "same text" {
		t.Fatalf("Generate = %q, %v", out, err)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := NewRegistry().New(Config{Provider: "mystery"})
	if !core.IsCode(err, core.CodeInvalidConfig) {
		t.Fatalf("err = %v, want INVALID_CONFIG", err)
	}
}

func TestRegistry_CustomFactory(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register("broken", func(Config) (core.Generator, error) { return nil, boom })
	if _, err := r.New(Config{Provider: "broken"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestEchoGenerator_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (EchoGenerator{}).Generate(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
