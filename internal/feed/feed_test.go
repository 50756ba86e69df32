package feed

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func drain(t *testing.T, s Source) (msgs []Message, bad int) {
	t.Helper()
	for {
		m, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return msgs, bad
		}
		if errors.Is(err, ErrBadMessage) {
			bad++
			continue
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		msgs = append(msgs, m)
	}
}

func TestFileSourceNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.ndjson")
	content := `{"channel":"@RansomFeedNews","text":"ID: 1\nhello","id":"1"}

{broken
{"text":"[Forum] Title\nTarget: Acme"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenFile(path, "telegram_feed")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	msgs, bad := drain(t, s)
	if bad != 1 {
		t.Errorf("bad = %d, want 1", bad)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Channel != "@RansomFeedNews" || msgs[0].ID != "1" {
		t.Errorf("first = %+v", msgs[0])
	}
	if msgs[1].Channel != "telegram_feed" {
		t.Errorf("default channel not applied: %+v", msgs[1])
	}
}

func TestFileSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.txt":  "raw post",
		"b.json": `{"channel":"venarix","text":"Threat group: X"}`,
		"c.md":   "ignored",
		"d.JSON": `{"channel":"ctifeeds","text":"t"}`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s, err := OpenFile(dir, "ctifeeds")
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := drain(t, s)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages: %+v", len(msgs), msgs)
	}
	if msgs[0].ID != "a" || msgs[0].Text != "raw post" || msgs[0].Channel != "ctifeeds" {
		t.Errorf("txt message = %+v", msgs[0])
	}
	if msgs[1].Channel != "venarix" {
		t.Errorf("json message = %+v", msgs[1])
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "nope"), ""); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodePlainText(t *testing.T) {
	m, err := Decode([]byte("🚨 Cyberattack Alert"), "hackmanac_cybernews")
	if err != nil {
		t.Fatal(err)
	}
	if m.Channel != "hackmanac_cybernews" || m.Text != "🚨 Cyberattack Alert" {
		t.Errorf("m = %+v", m)
	}
}

type fakeReader struct {
	msgs []kafka.Message
	errs []error
}

func (r *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) Close() error { return nil }

func TestKafkaSourceRetriesAndStops(t *testing.T) {
	r := &fakeReader{
		errs: []error{errors.New("leader not available")},
		msgs: []kafka.Message{{Key: []byte("venarix"), Value: []byte("Threat group: Qilin")}},
	}
	s := &KafkaSource{reader: r, logger: zap.NewNop()}

	ctx, cancel := context.WithCancel(context.Background())
	m, err := s.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.Channel != "venarix" || m.Text != "Threat group: Qilin" {
		t.Errorf("m = %+v", m)
	}

	cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

type captureWriter struct {
	msgs []kafka.Message
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func TestPublisherForward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.ndjson")
	os.WriteFile(path, []byte("{\"channel\":\"venarix\",\"text\":\"a\"}\nnot-json-but-text\n"), 0o644)
	src, err := OpenFile(path, "ctifeeds")
	if err != nil {
		t.Fatal(err)
	}
	w := &captureWriter{}
	p := &Publisher{writer: w}
	n, err := p.Forward(context.Background(), src, zap.NewNop())
	if err != nil || n != 2 {
		t.Fatalf("Forward = %d, %v", n, err)
	}
	if string(w.msgs[0].Key) != "venarix" || string(w.msgs[1].Key) != "ctifeeds" {
		t.Errorf("keys = %q, %q", w.msgs[0].Key, w.msgs[1].Key)
	}
}
