package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestDecodeCookieRequest(t *testing.T) {
	out, err := run(t, "decode", "--state", "login", "--direction", "clientbound", "--version", "1.21", "05 03 613a62")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "CookieRequest{key=a:b}") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDecodeRejectsUnknownAndMalformed(t *testing.T) {
	if _, err := run(t, "decode", "--version", "1.20.3", "0503613a62"); err == nil {
		t.Fatalf("expected unknown packet before 1.20.5")
	}
	if _, err := run(t, "decode", "zz"); err == nil {
		t.Fatalf("expected hex error")
	}
	if _, err := run(t, "decode", "--state", "nowhere", "00"); err == nil {
		t.Fatalf("expected state error")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcrelay.toml")
	if _, err := run(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := run(t, "config", "init", path); err == nil {
		t.Fatalf("expected overwrite refusal")
	}
	if _, err := run(t, "config", "init", "--force", path); err != nil {
		t.Fatalf("forced config init: %v", err)
	}
	out, err := run(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "mcrelay:session") {
		t.Fatalf("rendered config missing rules:\n%s", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat config: %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "mcrelay ") {
		t.Fatalf("unexpected version output: %q", out)
	}
}
