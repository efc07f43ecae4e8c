package session

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
	"github.com/randomizedcoder/go-vibium-sync/internal/bidi/biditest"
)

// newPage returns a page with a heading, a link and an input.
func newPage() *biditest.Page {
	page := biditest.NewPage()
	page.AddElement("h1", biditest.Element{
		Tag:  "h1",
		Text: "  Example Domain ",
		Box:  bidi.BoundingBox{X: 10, Y: 20, Width: 300, Height: 40},
	})
	page.AddElement("a", biditest.Element{
		Tag:   "a",
		Text:  "More information...",
		Box:   bidi.BoundingBox{X: 10, Y: 100, Width: 120, Height: 18},
		Attrs: map[string]string{"href": "https://www.iana.org/domains/example"},
	})
	page.AddElement("input[name=q]", biditest.Element{Tag: "input"})
	return page
}

func invoke(t *testing.T, s *Session, method string, args ...any) any {
	t.Helper()
	res, err := s.Invoke(context.Background(), method, args)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return res
}

// launchConnected launches against srv without spawning a process.
func launchConnected(t *testing.T, srv *biditest.Server) *Session {
	t.Helper()
	s := New(Config{})
	t.Cleanup(func() { _ = s.Close() })
	invoke(t, s, "launch", LaunchOptions{Endpoint: srv.URL()})
	return s
}

func TestSession_Methods(t *testing.T) {
	got := New(Config{}).Methods()
	sort.Strings(got)
	want := []string{
		"element.boundingBox", "element.click", "element.getAttribute",
		"element.text", "element.type", "find", "go", "launch", "quit", "screenshot",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Methods() = %v, want %v", got, want)
	}
}

func TestSession_UnknownMethod(t *testing.T) {
	s := New(Config{})
	_, err := s.Invoke(context.Background(), "element.hover", nil)
	var ume *UnknownMethodError
	if !errors.As(err, &ume) {
		t.Fatalf("err = %v, want UnknownMethodError", err)
	}
	if err.Error() != "unknown method: element.hover" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSession_NotLaunched(t *testing.T) {
	s := New(Config{})
	tests := []struct {
		method string
		args   []any
	}{
		{"go", []any{"https://example.com"}},
		{"screenshot", nil},
		{"find", []any{"h1"}},
		{"quit", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := s.Invoke(context.Background(), tt.method, tt.args)
			if !errors.Is(err, ErrNotLaunched) {
				t.Errorf("err = %v, want ErrNotLaunched", err)
			}
		})
	}
}

func TestSession_CommandsAgainstServer(t *testing.T) {
	page := newPage()
	page.SetScreenshot([]byte("png-bytes"))
	srv := biditest.NewServer(t, page.Handle)
	s := launchConnected(t, srv)

	invoke(t, s, "go", "https://example.com")
	if page.URL() != "https://example.com" {
		t.Errorf("page URL = %q", page.URL())
	}

	shot := invoke(t, s, "screenshot").(ScreenshotResult)
	data, _ := base64.StdEncoding.DecodeString(shot.Data)
	if string(data) != "png-bytes" {
		t.Errorf("screenshot = %q", data)
	}

	h1 := invoke(t, s, "find", "h1").(FindResult)
	if h1.ElementID != 1 || h1.Info.Tag != "h1" || h1.Info.Box.Width != 300 {
		t.Errorf("find h1 = %+v", h1)
	}
	link := invoke(t, s, "find", "a", FindOptions{Timeout: 5 * time.Second}).(FindResult)
	if link.ElementID != 2 {
		t.Errorf("second element id = %d, want 2", link.ElementID)
	}

	if got := invoke(t, s, "element.text", h1.ElementID); got != "Example Domain" {
		t.Errorf("text = %q", got)
	}

	href := invoke(t, s, "element.getAttribute", link.ElementID, "href").(*string)
	if href == nil || *href != "https://www.iana.org/domains/example" {
		t.Errorf("href = %v", href)
	}
	missing := invoke(t, s, "element.getAttribute", link.ElementID, "target").(*string)
	if missing != nil {
		t.Errorf("absent attribute = %q, want nil", *missing)
	}

	box := invoke(t, s, "element.boundingBox", link.ElementID).(bidi.BoundingBox)
	if box != (bidi.BoundingBox{X: 10, Y: 100, Width: 120, Height: 18}) {
		t.Errorf("box = %+v", box)
	}

	invoke(t, s, "element.click", link.ElementID, ActionOptions{Timeout: time.Second})
	if clicks := page.Clicks(); len(clicks) != 1 || clicks[0] != "a" {
		t.Errorf("clicks = %v", clicks)
	}

	input := invoke(t, s, "find", "input[name=q]").(FindResult)
	invoke(t, s, "element.type", input.ElementID, "hello")
	if got := page.Typed("input[name=q]"); got != "hello" {
		t.Errorf("typed = %q", got)
	}

	// The browsing context is looked up once and cached.
	n := 0
	for _, m := range srv.Methods() {
		if m == "browsingContext.getTree" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("getTree calls = %d, want 1", n)
	}

	invoke(t, s, "quit")
	if _, err := s.Invoke(context.Background(), "go", []any{"x"}); !errors.Is(err, ErrNotLaunched) {
		t.Errorf("go after quit = %v, want ErrNotLaunched", err)
	}
}

func TestSession_FindTimeoutParam(t *testing.T) {
	srv := biditest.NewServer(t, newPage().Handle)
	s := launchConnected(t, srv)

	invoke(t, s, "find", "h1", &FindOptions{Timeout: 1500 * time.Millisecond})
	invoke(t, s, "find", "h1")

	var finds []string
	for _, c := range srv.Calls() {
		if c.Method == "vibium:find" {
			finds = append(finds, string(c.Params))
		}
	}
	if len(finds) != 2 {
		t.Fatalf("find calls = %v", finds)
	}
	if !strings.Contains(finds[0], `"timeout":1500`) {
		t.Errorf("find params = %s, want timeout 1500", finds[0])
	}
	if strings.Contains(finds[1], "timeout") {
		t.Errorf("find params = %s, want no timeout", finds[1])
	}
}

func TestSession_Errors(t *testing.T) {
	srv := biditest.NewServer(t, newPage().Handle)
	s := launchConnected(t, srv)

	t.Run("remote_error", func(t *testing.T) {
		_, err := s.Invoke(context.Background(), "find", []any{"#missing"})
		var be *bidi.Error
		if !errors.As(err, &be) || be.Code != "timeout" {
			t.Errorf("err = %v, want bidi timeout error", err)
		}
	})

	t.Run("unknown_handle", func(t *testing.T) {
		_, err := s.Invoke(context.Background(), "element.click", []any{99})
		var nf *ElementNotFoundError
		if !errors.As(err, &nf) || nf.ID != 99 {
			t.Errorf("err = %v, want element 99 not found", err)
		}
	})

	t.Run("bad_argument", func(t *testing.T) {
		_, err := s.Invoke(context.Background(), "go", []any{42})
		var ae *ArgumentError
		if !errors.As(err, &ae) {
			t.Errorf("err = %v, want ArgumentError", err)
		}
	})

	t.Run("double_launch", func(t *testing.T) {
		_, err := s.Invoke(context.Background(), "launch", []any{LaunchOptions{Endpoint: srv.URL()}})
		if !errors.Is(err, ErrAlreadyLaunched) {
			t.Errorf("err = %v, want ErrAlreadyLaunched", err)
		}
	})
}

func TestSession_LaunchSpawnsClicker(t *testing.T) {
	srv := biditest.NewServer(t, newPage().Handle)
	binary, argsFile := biditest.StubClicker(t, srv)

	s := New(Config{GracePeriod: time.Second})
	t.Cleanup(func() { _ = s.Close() })

	res := invoke(t, s, "launch", LaunchOptions{ExecutablePath: binary, Port: 9515}).(LaunchResult)
	if res.PID == 0 {
		t.Error("PID = 0")
	}
	if res.Endpoint != srv.URL() {
		t.Errorf("Endpoint = %q, want %q", res.Endpoint, srv.URL())
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got := strings.TrimSpace(string(args)); got != "serve --port 9515" {
		t.Errorf("clicker args = %q", got)
	}

	invoke(t, s, "go", "https://example.com")

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	invoke(t, s, "quit")
	select {
	case <-sup.Done():
	default:
		t.Error("clicker still running after quit")
	}
	if sup.ForceKilled() {
		t.Error("clicker needed SIGKILL despite honouring SIGTERM")
	}
}

func TestSession_KillDuringQuit(t *testing.T) {
	srv := biditest.NewServer(t, newPage().Handle)
	binary, _ := biditest.StubClickerIgnoringTERM(t, srv)

	s := New(Config{GracePeriod: time.Minute})
	t.Cleanup(func() { _ = s.Close() })
	invoke(t, s, "launch", LaunchOptions{ExecutablePath: binary})

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	quitDone := make(chan error, 1)
	go func() {
		_, err := s.Invoke(context.Background(), "quit", nil)
		quitDone <- err
	}()

	// quit is now waiting out the grace period on a process that ignores SIGTERM
	time.Sleep(200 * time.Millisecond)
	select {
	case err := <-quitDone:
		t.Fatalf("quit returned early: %v", err)
	default:
	}

	s.Kill()

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Kill during quit left clicker running")
	}
	if !sup.ForceKilled() {
		t.Error("Kill during quit did not use SIGKILL")
	}

	select {
	case err := <-quitDone:
		if err != nil {
			t.Errorf("quit error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("quit still blocked after the process was killed")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		t.Error("supervisor still held after quit finished")
	}
}

func TestSession_LaunchSpawnFailure(t *testing.T) {
	s := New(Config{})
	_, err := s.Invoke(context.Background(), "launch", []any{LaunchOptions{ExecutablePath: "/nonexistent/clicker"}})
	if err == nil {
		t.Fatal("launch with missing binary succeeded")
	}
	if _, err := s.connected(); !errors.Is(err, ErrNotLaunched) {
		t.Errorf("session connected after failed launch")
	}
}

func TestSession_Kill(t *testing.T) {
	srv := biditest.NewServer(t, newPage().Handle)
	binary, _ := biditest.StubClicker(t, srv)

	s := New(Config{})
	invoke(t, s, "launch", LaunchOptions{ExecutablePath: binary, Headed: true})

	s.mu.Lock()
	sup, client := s.sup, s.client
	s.mu.Unlock()

	s.Kill()

	select {
	case <-sup.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("clicker not killed")
	}
	if !sup.ForceKilled() {
		t.Error("Kill did not use SIGKILL")
	}
	if client.Connected() {
		t.Error("connection still open after Kill")
	}

	// Close after Kill still releases cleanly.
	if err := s.Close(); err != nil {
		t.Errorf("Close() after Kill = %v", err)
	}
}
