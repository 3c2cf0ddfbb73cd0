package logsink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/desertthunder/songbird/internal/shared"
)

func TestErrorEvent(t *testing.T) {
	tc := []struct {
		name string
		err  error
		want shared.Kind
	}{
		{name: "storage", err: fmt.Errorf("%w: disk", shared.ErrStorage), want: shared.KindStorage},
		{name: "config", err: shared.ErrNoActiveAccount, want: shared.KindConfig},
		{name: "downloader", err: shared.ErrDownloader, want: shared.KindDownloader},
		{name: "nil", err: nil, want: shared.KindInfo},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			e := ErrorEvent("accounts.add", tt.err, "index", 2)
			if e.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", e.Kind, tt.want)
			}
			if e.Op != "accounts.add" {
				t.Errorf("Op = %q", e.Op)
			}
			if e.Fields["index"] != 2 {
				t.Errorf("Fields = %v", e.Fields)
			}
			if e.Time.IsZero() {
				t.Error("Time should be set")
			}
		})
	}

	t.Run("Odd Key Values", func(t *testing.T) {
		e := Info("op", "msg", "dangling")
		if e.Fields["dangling"] != "(missing)" {
			t.Errorf("Fields = %v", e.Fields)
		}
	})
}

func TestLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLoggerSink(shared.NewLogger(&buf))

	sink.Emit(Info("server.start", "listening", "addr", ":3000"))
	sink.Emit(ErrorEvent("converter.convert", shared.ErrTranscodeFailed, "job", "abc"))

	out := buf.String()
	for _, want := range []string{"listening", "addr", ":3000", "transcode_failed", "job"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "songbird.log")
	sink := NewFileSink(FileSinkOptions{Path: path, MaxSizeMB: 1, MaxBackups: 1})

	sink.Emit(ErrorEvent("prober.attempt", shared.ErrServiceUnavailable, "url", "http://x"))
	if err := sink.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &line); err != nil {
		t.Fatalf("expected a JSON line, got %q: %v", data, err)
	}
	if line["kind"] != "network" {
		t.Errorf("kind = %v, want network", line["kind"])
	}
	if line["op"] != "prober.attempt" {
		t.Errorf("op = %v", line["op"])
	}
}

func TestFanoutAndRecorder(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	f := NewFanout(a, nil, b)
	if len(f) != 2 {
		t.Fatalf("expected nil sinks to be dropped, got %d", len(f))
	}

	f.Emit(Info("op", "one"))
	f.Emit(ErrorEvent("op", shared.ErrStorage))

	for _, r := range []*Recorder{a, b} {
		if len(r.Events()) != 2 {
			t.Errorf("expected 2 events, got %d", len(r.Events()))
		}
		if !r.Has(shared.KindStorage, "op") {
			t.Error("expected storage event")
		}
		if r.Has(shared.KindNetwork, "") {
			t.Error("unexpected network event")
		}
	}

	last, ok := a.Last()
	if !ok || last.Kind != shared.KindStorage {
		t.Errorf("Last() = %v, %v", last, ok)
	}

	a.Reset()
	if _, ok := a.Last(); ok {
		t.Error("expected no events after Reset")
	}
}

func TestRecorderConcurrent(t *testing.T) {
	r := NewRecorder()
	var notified int
	var mu sync.Mutex
	r.OnEmit(func(Event) {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Emit(Info("op", "msg"))
		}()
	}
	wg.Wait()

	if got := len(r.Kinds()); got != 50 {
		t.Errorf("expected 50 events, got %d", got)
	}
	if notified != 50 {
		t.Errorf("expected 50 notifications, got %d", notified)
	}
}

func TestOrDiscard(t *testing.T) {
	if _, ok := OrDiscard(nil).(Discard); !ok {
		t.Error("nil sink should become Discard")
	}
	r := NewRecorder()
	if OrDiscard(r) != Sink(r) {
		t.Error("non-nil sink should pass through")
	}
}
