package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Malpedia.Timeout != 10*time.Second {
		t.Errorf("malpedia timeout = %v", c.Malpedia.Timeout)
	}
	if c.KnowledgeBase.MaxRetries != 5 || c.KnowledgeBase.Timeout != 20*time.Second {
		t.Errorf("knowledge base = %+v", c.KnowledgeBase)
	}
	if got := c.Store.Path(c.Store.JSONFile); got != filepath.Join("data", "leak_summary.json") {
		t.Errorf("json path = %s", got)
	}
	if c.Malpedia.Token != "" || c.Malpedia.Cookie != "" {
		t.Error("credentials must not have defaults")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leakwatch.yaml")
	body := `
log:
  level: debug
feed:
  type: kafka
  channels:
    - channel: "@darkforum_digest"
      format: labeled-block
malpedia:
  timeout: 3s
  headers:
    X-Extra: "yes"
store:
  data_dir: /var/lib/leakwatch
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAFKA_BROKER", "kafka:29092")
	t.Setenv("LEAKWATCH_MALPEDIA_TOKEN", "secret")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Log.Level != "debug" || c.Feed.Type != "kafka" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.Malpedia.Timeout != 3*time.Second || c.Malpedia.Headers["X-Extra"] != "yes" {
		t.Errorf("malpedia = %+v", c.Malpedia)
	}
	if c.Malpedia.BaseURL == "" {
		t.Error("defaults lost when file omits a field")
	}
	if c.Kafka.Broker != "kafka:29092" || c.Malpedia.Token != "secret" {
		t.Errorf("env overrides not applied: broker=%s token=%s", c.Kafka.Broker, c.Malpedia.Token)
	}
	if got := c.Store.Path("leaks.bleve"); got != "/var/lib/leakwatch/leaks.bleve" {
		t.Errorf("store path = %s", got)
	}
	if len(c.Feed.Channels) != 1 || c.Feed.Channels[0].Format != "labeled-block" {
		t.Errorf("channels = %+v", c.Feed.Channels)
	}
}

func TestValidate(t *testing.T) {
	c := Default()
	c.Feed.Type = "pigeon"
	c.Feed.Channels = []ChannelBinding{{Channel: "x"}}
	err := c.Validate()
	if err == nil {
		t.Fatal("Validate accepted a bad config")
	}
	for _, want := range []string{"pigeon", "channel and format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
