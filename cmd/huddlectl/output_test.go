package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/profile"
)

func TestPrinterFormats(t *testing.T) {
	color.NoColor = true
	v := api.SendResponse{LocalID: "local-7"}

	tests := []struct {
		format string
		want   string
	}{
		{"json", "{\n  \"localId\": \"local-7\"\n}\n"},
		{"yaml", "localId: local-7\n"},
		{"text", "queued 1-1\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		p, err := newPrinter(&buf, tt.format)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.emit(v, func(w io.Writer) { _, _ = io.WriteString(w, "queued 1-1\n") }); err != nil {
			t.Fatalf("%s: emit() error = %v", tt.format, err)
		}
		if got := buf.String(); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.format, got, tt.want)
		}
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := newPrinter(io.Discard, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := truncate("héllo wörld", 5); got != "héll…" {
		t.Errorf("got %q, want %q", got, "héll…")
	}
}

func TestCommandTableComplete(t *testing.T) {
	if len(commandOrder) != len(commands) {
		t.Fatalf("commandOrder has %d entries, commands has %d", len(commandOrder), len(commands))
	}
	for _, name := range commandOrder {
		cmd, ok := commands[name]
		if !ok {
			t.Errorf("command %q missing from table", name)
			continue
		}
		if (cmd.run == nil) == (cmd.local == nil) || strings.TrimSpace(cmd.help) == "" {
			t.Errorf("command %q incomplete", name)
		}
	}
}

func TestInitWritesProfile(t *testing.T) {
	t.Setenv("HUDDLE_HOME", t.TempDir())
	p, err := newPrinter(io.Discard, "text")
	if err != nil {
		t.Fatal(err)
	}

	err = cmdInit("work", p, []string{"--api-url", "https://api.example", "--socket-url", "wss://ws.example", "--token", "tok"})
	if err != nil {
		t.Fatalf("cmdInit() error = %v", err)
	}
	err = cmdInit("home", p, []string{"--api-url", "https://api2.example", "--socket-url", "wss://ws2.example"})
	if err != nil {
		t.Fatalf("cmdInit() error = %v", err)
	}

	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultProfile != "work" {
		t.Errorf("default profile = %q, want work", cfg.DefaultProfile)
	}
	work := cfg.Profiles["work"]
	if work.APIURL != "https://api.example" || work.SocketURL != "wss://ws.example" || work.Token != "tok" {
		t.Errorf("work profile = %+v", work)
	}
	if home := cfg.Profiles["home"]; home.APIURL != "https://api2.example" {
		t.Errorf("home profile = %+v", home)
	}

	if err := cmdInit("work", p, []string{"--api-url", "https://api.example"}); err == nil {
		t.Error("expected error without --socket-url")
	}
}
