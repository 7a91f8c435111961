package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte("logging:\n  json: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.HTTP.Bind != "0.0.0.0" || c.HTTP.Port != 8088 {
		t.Fatalf("http defaults = %s:%d", c.HTTP.Bind, c.HTTP.Port)
	}
	if c.Logging.Level != "info" || !c.Logging.JSON {
		t.Fatalf("logging = %+v", c.Logging)
	}
	if c.Inspector.PongWait != time.Minute || c.Inspector.SendQueue != 256 {
		t.Fatalf("inspector defaults = %+v", c.Inspector)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
http:
  port: 9000
inspector:
  write_wait: 3s
  send_queue: 8
source:
  simulate: true
  interval: 500ms
plugins:
  enabled: [Sections]
  config:
    Sections:
      verbose: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTP.Port != 9000 {
		t.Fatalf("port = %d", c.HTTP.Port)
	}
	if c.Inspector.WriteWait != 3*time.Second || c.Inspector.SendQueue != 8 {
		t.Fatalf("inspector = %+v", c.Inspector)
	}
	if !c.Source.Simulate || c.Source.Interval != 500*time.Millisecond {
		t.Fatalf("source = %+v", c.Source)
	}
	if !c.PluginEnabled("Sections") || c.PluginEnabled("Network") {
		t.Fatalf("enabled = %v", c.Plugins.Enabled)
	}
	if v := c.PluginConfig("Sections")["verbose"]; v != true {
		t.Fatalf("plugin config = %v", c.PluginConfig("Sections"))
	}
	if len(c.PluginConfig("Other")) != 0 {
		t.Fatalf("unknown plugin should get empty config")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"port":  "http:\n  port: 70000\n",
		"tls":   "http:\n  tls:\n    enabled: true\n",
		"queue": "inspector:\n  send_queue: -1\n",
		"yaml":  "http: [",
	} {
		if _, err := Parse([]byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEmptyEnabledListAllowsAll(t *testing.T) {
	c := Default()
	if !c.PluginEnabled("anything") {
		t.Fatalf("default config should enable every plugin")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !os.IsNotExist(err) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}
