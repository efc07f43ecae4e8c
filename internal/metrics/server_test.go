package metrics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestServer_Endpoints(t *testing.T) {
	c, reg := newTestCollector()
	c.RecordCall("go", time.Millisecond, nil)

	s := NewServer("127.0.0.1:0", reg, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	base := "http://" + s.Addr()
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Fatalf("Addr() = %q, want bound port", s.Addr())
	}

	for _, path := range []string{"/health", "/healthz"} {
		if code, _ := get(t, base+path); code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, code)
		}
	}

	if code, _ := get(t, base+"/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before SetReady = %d, want 503", code)
	}
	s.SetReady(true)
	if code, _ := get(t, base+"/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after SetReady = %d, want 200", code)
	}

	code, body := get(t, base+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("/metrics = %d", code)
	}
	if !strings.Contains(body, `vibium_sync_calls_total{method="go",outcome="ok"} 1`) {
		t.Errorf("/metrics missing call counter:\n%s", body)
	}
}

func TestServer_StartFailsOnBusyAddr(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewServer("127.0.0.1:0", reg, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Shutdown(context.Background())

	second := NewServer(first.Addr(), reg, nil)
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Fatal("expected error binding a busy address")
	}
}

// =============================================================================
// Dump
// =============================================================================

func decodeText(t *testing.T, r io.Reader) map[string]*dto.MetricFamily {
	t.Helper()
	out := make(map[string]*dto.MetricFamily)
	dec := expfmt.NewDecoder(r, expfmt.FmtText)
	for {
		var mf dto.MetricFamily
		if err := dec.Decode(&mf); err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("decode: %v", err)
		}
		out[mf.GetName()] = &mf
	}
	return out
}

func TestWriteText(t *testing.T) {
	c, reg := newTestCollector()
	reg.MustRegister(collectors.NewGoCollector())
	c.RecordCall("find", 5*time.Millisecond, nil)
	c.ProcessStarted()

	var buf bytes.Buffer
	if err := WriteText(&buf, reg); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	families := decodeText(t, &buf)
	if _, ok := families["vibium_sync_calls_total"]; !ok {
		t.Error("dump missing vibium_sync_calls_total")
	}
	if _, ok := families["vibium_sync_clicker_starts_total"]; !ok {
		t.Error("dump missing vibium_sync_clicker_starts_total")
	}
	for name := range families {
		if strings.HasPrefix(name, "go_") {
			t.Errorf("dump includes runtime family %s", name)
		}
	}
}

func TestDumpFile(t *testing.T) {
	c, reg := newTestCollector()
	c.SessionOpened()

	path := filepath.Join(t.TempDir(), "metrics.prom")
	if err := DumpFile(path, reg); err != nil {
		t.Fatalf("DumpFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "vibium_sync_live_sessions 1") {
		t.Errorf("dump = %s", data)
	}
}

func TestDumpFile_BadPath(t *testing.T) {
	_, reg := newTestCollector()
	if err := DumpFile(filepath.Join(t.TempDir(), "missing", "m.prom"), reg); err == nil {
		t.Error("expected error for missing directory")
	}
}
