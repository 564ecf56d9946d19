package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Error("missing file must yield nil config")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "empty.json", "  \n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != nil {
		t.Error("empty file must yield nil config")
	}
}

func TestLoadWithComments(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "c.json", `{
  // deny the build cache too
  "filesystem": {
    "denyPaths": ["/var/cache/build"],
    "denyPrefixes": ["/srv/"],
    "readOnlyPrefixes": []
  },
  "logLevel": "debug"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Filesystem.DenyPaths) != 1 || cfg.Filesystem.DenyPaths[0] != "/var/cache/build" {
		t.Errorf("DenyPaths = %v", cfg.Filesystem.DenyPaths)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "bad.json", `{"filesystem": [}`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestExtendsChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.json", `{
  "filesystem": {"denyPrefixes": ["/opt/secrets/"]},
  "logLevel": "info"
}`)
	child := writeConfig(t, dir, "child.json", `{
  "extends": "base.json",
  "filesystem": {"denyPrefixes": ["/srv/"]},
  "logLevel": "debug"
}`)

	cfg, err := Load(child)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"/opt/secrets/", "/srv/"}
	if len(cfg.Filesystem.DenyPrefixes) != 2 {
		t.Fatalf("DenyPrefixes = %v, want %v", cfg.Filesystem.DenyPrefixes, want)
	}
	for i := range want {
		if cfg.Filesystem.DenyPrefixes[i] != want[i] {
			t.Errorf("DenyPrefixes[%d] = %q, want %q", i, cfg.Filesystem.DenyPrefixes[i], want[i])
		}
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("child logLevel must win, got %q", cfg.LogLevel)
	}
}

func TestExtendsCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.json", `{"extends": "b.json"}`)
	writeConfig(t, dir, "b.json", `{"extends": "a.json"}`)
	if _, err := Load(filepath.Join(dir, "a.json")); err == nil {
		t.Error("expected depth error for extends cycle")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty default", *Default(), false},
		{"relative path", Config{Filesystem: FilesystemConfig{DenyPaths: []string{"etc/passwd"}}}, true},
		{"empty entry", Config{Filesystem: FilesystemConfig{DenyPrefixes: []string{""}}}, true},
		{"glob ok", Config{Filesystem: FilesystemConfig{DenyPaths: []string{"/home/**/.ssh"}}}, false},
		{"bad glob", Config{Filesystem: FilesystemConfig{DenyPaths: []string{"/home/[broken"}}}, true},
		{"bad log level", Config{LogLevel: "loud"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMatchesAny(t *testing.T) {
	tests := []struct {
		patterns []string
		path     string
		want     bool
	}{
		{[]string{"/etc/shadow"}, "/etc/shadow", true},
		{[]string{"/etc/shadow"}, "/etc/shadow2", false},
		{[]string{"/srv/"}, "/srv/www/index.html", true},
		{[]string{"/home/**/.ssh"}, "/home/alice/.ssh", true},
		{[]string{"/home/**/.ssh"}, "/home/alice/work/.ssh", true},
		{[]string{"/home/*/.aws"}, "/home/alice/.aws", true},
		{[]string{"/home/*/.aws"}, "/home/alice/deep/.aws", false},
		{nil, "/anything", false},
	}
	for _, tt := range tests {
		if got := MatchesAny(tt.patterns, tt.path); got != tt.want {
			t.Errorf("MatchesAny(%v, %q) = %v, want %v", tt.patterns, tt.path, got, tt.want)
		}
	}
}
