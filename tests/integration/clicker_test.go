//go:build integration

// Package integration contains end-to-end tests that drive a real clicker
// binary and browser. Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/process"
	"github.com/randomizedcoder/go-vibium-sync/pkg/browser"
)

const testPage = `<!doctype html>
<html>
<head><title>integration</title></head>
<body>
<h1>Integration Page</h1>
<a id="link" href="/next">next</a>
<input id="q" type="text">
<button id="btn" onclick="document.getElementById('out').textContent='clicked'">press</button>
<p id="out"></p>
</body>
</html>`

// requireClicker skips the test if clicker is not available.
func requireClicker(t *testing.T) string {
	t.Helper()
	path, err := process.ResolveBinary("")
	if err != nil {
		t.Skip("clicker not found (set CLICKER_PATH or add it to PATH) - skipping integration test")
	}
	if _, err := exec.LookPath(path); err != nil {
		t.Skipf("clicker at %s is not executable - skipping integration test", path)
	}
	return path
}

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testPage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func launch(t *testing.T, ctx context.Context) *browser.Browser {
	t.Helper()
	b, err := browser.Launch(ctx, browser.LaunchOptions{
		ExecutablePath: requireClicker(t),
		CallTimeout:    30 * time.Second,
	})
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	t.Cleanup(b.Quit)
	return b
}

// TestIntegration_Session drives one browser through every operation.
func TestIntegration_Session(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	srv := pageServer(t)
	b := launch(t, ctx)

	if b.PID() == 0 {
		t.Error("launched session should report the clicker PID")
	}
	t.Logf("clicker pid=%d endpoint=%s", b.PID(), b.Endpoint())

	if err := b.Go(ctx, srv.URL); err != nil {
		t.Fatalf("Go failed: %v", err)
	}

	h1, err := b.Find(ctx, "h1", browser.FindOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Find h1 failed: %v", err)
	}
	text, err := h1.Text(ctx)
	if err != nil {
		t.Fatalf("Text failed: %v", err)
	}
	if text != "Integration Page" {
		t.Errorf("h1 text = %q, want %q", text, "Integration Page")
	}

	box, err := h1.BoundingBox(ctx)
	if err != nil {
		t.Fatalf("BoundingBox failed: %v", err)
	}
	if box.Width <= 0 || box.Height <= 0 {
		t.Errorf("h1 box = %+v, want non-empty", box)
	}

	link, err := b.Find(ctx, "#link", browser.FindOptions{})
	if err != nil {
		t.Fatalf("Find #link failed: %v", err)
	}
	href, err := link.GetAttribute(ctx, "href")
	if err != nil {
		t.Fatalf("GetAttribute failed: %v", err)
	}
	if href == nil || *href != "/next" {
		t.Errorf("href = %v, want /next", href)
	}
	missing, err := link.GetAttribute(ctx, "target")
	if err != nil {
		t.Fatalf("GetAttribute target failed: %v", err)
	}
	if missing != nil {
		t.Errorf("target = %q, want nil", *missing)
	}

	input, err := b.Find(ctx, "#q", browser.FindOptions{})
	if err != nil {
		t.Fatalf("Find #q failed: %v", err)
	}
	if err := input.Type(ctx, "hello", browser.ActionOptions{}); err != nil {
		t.Fatalf("Type failed: %v", err)
	}

	btn, err := b.Find(ctx, "#btn", browser.FindOptions{})
	if err != nil {
		t.Fatalf("Find #btn failed: %v", err)
	}
	if err := btn.Click(ctx, browser.ActionOptions{}); err != nil {
		t.Fatalf("Click failed: %v", err)
	}
	out, err := b.Find(ctx, "#out", browser.FindOptions{})
	if err != nil {
		t.Fatalf("Find #out failed: %v", err)
	}
	if got, _ := out.Text(ctx); got != "clicked" {
		t.Errorf("#out text after click = %q, want clicked", got)
	}

	png, err := b.Screenshot(ctx)
	if err != nil {
		t.Fatalf("Screenshot failed: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Errorf("screenshot is not a PNG (%d bytes)", len(png))
	}

	b.Quit()
	if _, err := b.Find(ctx, "h1", browser.FindOptions{}); err == nil {
		t.Error("calls after Quit should fail")
	}
}

// TestIntegration_FindTimeout checks that a missing element fails within
// the requested timeout.
func TestIntegration_FindTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	srv := pageServer(t)
	b := launch(t, ctx)

	if err := b.Go(ctx, srv.URL); err != nil {
		t.Fatalf("Go failed: %v", err)
	}

	start := time.Now()
	_, err := b.Find(ctx, "#does-not-exist", browser.FindOptions{Timeout: 500 * time.Millisecond})
	if err == nil {
		t.Fatal("Find should fail for a missing element")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Find took %v, want about 500ms", elapsed)
	}
}

// TestIntegration_QuitAll launches several sessions concurrently and stops
// them together.
func TestIntegration_QuitAll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	clicker := requireClicker(t)

	const sessions = 3
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		browsers []*browser.Browser
		errs     []error
	)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := browser.Launch(ctx, browser.LaunchOptions{ExecutablePath: clicker})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			browsers = append(browsers, b)
		}()
	}
	wg.Wait()
	t.Cleanup(browser.QuitAll)

	for _, err := range errs {
		t.Errorf("Launch failed: %v", err)
	}
	if len(browsers) != sessions {
		t.Fatalf("launched %d sessions, want %d", len(browsers), sessions)
	}

	browser.QuitAll()

	for _, b := range browsers {
		if err := b.Go(ctx, "about:blank"); err == nil {
			t.Errorf("session %s still answers after QuitAll", b.ID())
		}
	}
}
