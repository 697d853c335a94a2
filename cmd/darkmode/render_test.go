package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/darkmode-go/internal/darkmode"
)

const page = `<html><head><title>Doc</title></head><body style="background: #fff"><p>Hello</p></body></html>`

func TestRenderInjectsTheme(t *testing.T) {
	var out bytes.Buffer
	err := render(context.Background(), strings.NewReader(page), &out, renderOptions{
		URL:    "https://docs.test/page",
		Settle: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, darkmode.FilterCSSID) {
		t.Errorf("output lacks the filter sheet:\n%s", got)
	}
	if !strings.Contains(got, "Hello") {
		t.Errorf("content lost:\n%s", got)
	}
}

func TestRenderUnknownPreset(t *testing.T) {
	var out bytes.Buffer
	err := render(context.Background(), strings.NewReader(page), &out, renderOptions{
		URL:    "https://docs.test/",
		Preset: "PLAID",
	})
	if err == nil {
		t.Fatal("expected an unknown preset error")
	}
}

func TestRenderCommandNeedsOnePath(t *testing.T) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"render"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "accepts 1 arg") {
		t.Errorf("Execute() = %v, want an argument count error", err)
	}
}

func TestRenderCommandReadsStdin(t *testing.T) {
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(page))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"render", "--url", "https://docs.test/", "--preset", "NIGHT", "--settle", "10ms", "-"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v (stderr: %s)", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), darkmode.FilterCSSID) {
		t.Errorf("output lacks the filter sheet:\n%s", stdout.String())
	}
}

func TestRenderCommandWritesFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "page.html")
	out := filepath.Join(dir, "dark.html")
	if err := os.WriteFile(in, []byte(page), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"render", "-o", out, "--settle", "10ms", in})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "Hello") {
		t.Errorf("output file = %s", data)
	}
}

func TestRenderCommandUnknownPreset(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader(page))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"render", "--preset", "PLAID", "-"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an unknown preset error")
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "darkmode ") {
		t.Errorf("version output = %q", stdout.String())
	}
}
