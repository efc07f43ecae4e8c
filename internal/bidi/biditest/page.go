package biditest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
)

// Element is a fake DOM element addressed by selector.
type Element struct {
	Tag   string
	Text  string
	Box   bidi.BoundingBox
	Attrs map[string]string
}

// Page answers the commands a clicker server understands against an
// in-memory set of elements.
type Page struct {
	mu         sync.Mutex
	context    string
	url        string
	elements   map[string]*Element
	screenshot []byte
	clicks     []string
	typed      map[string]string
}

// NewPage returns an empty page in browsing context "ctx-1".
func NewPage() *Page {
	return &Page{
		context:    "ctx-1",
		url:        "about:blank",
		elements:   make(map[string]*Element),
		screenshot: []byte("\x89PNG\r\n\x1a\nfake"),
		typed:      make(map[string]string),
	}
}

// AddElement makes selector resolvable.
func (p *Page) AddElement(selector string, el Element) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = &el
}

// SetScreenshot sets the bytes returned by captureScreenshot.
func (p *Page) SetScreenshot(png []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.screenshot = png
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Clicks returns the selectors clicked, in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Typed returns the text typed into selector.
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// Handle implements HandlerFunc.
func (p *Page) Handle(method string, params json.RawMessage) (any, error) {
	var in struct {
		Context             string `json:"context"`
		URL                 string `json:"url"`
		Selector            string `json:"selector"`
		Text                string `json:"text"`
		FunctionDeclaration string `json:"functionDeclaration"`
		Arguments           []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"arguments"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return nil, &bidi.Error{Code: "invalid argument", Message: err.Error()}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch method {
	case "browsingContext.getTree":
		return map[string]any{
			"contexts": []map[string]any{{"context": p.context, "url": p.url, "children": []any{}}},
		}, nil

	case "browsingContext.navigate":
		p.url = in.URL
		return map[string]any{"navigation": "nav-1", "url": in.URL}, nil

	case "browsingContext.captureScreenshot":
		return map[string]any{"data": base64.StdEncoding.EncodeToString(p.screenshot)}, nil

	case "vibium:find":
		el, ok := p.elements[in.Selector]
		if !ok {
			return nil, &bidi.Error{Code: "timeout", Message: "timeout after 30000ms waiting for '" + in.Selector + "': element not found"}
		}
		return map[string]any{"tag": el.Tag, "text": el.Text, "box": el.Box}, nil

	case "vibium:click":
		if _, ok := p.elements[in.Selector]; !ok {
			return nil, &bidi.Error{Code: "timeout", Message: "element not found: " + in.Selector}
		}
		p.clicks = append(p.clicks, in.Selector)
		return map[string]any{"clicked": true}, nil

	case "vibium:type":
		if _, ok := p.elements[in.Selector]; !ok {
			return nil, &bidi.Error{Code: "timeout", Message: "element not found: " + in.Selector}
		}
		p.typed[in.Selector] += in.Text
		return map[string]any{"typed": true}, nil

	case "script.callFunction":
		return p.callFunction(in.FunctionDeclaration, in.Arguments)

	default:
		return nil, &bidi.Error{Code: "unknown command", Message: method}
	}
}

func (p *Page) callFunction(fn string, args []struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}) (any, error) {
	if len(args) == 0 {
		return nil, &bidi.Error{Code: "invalid argument", Message: "missing selector"}
	}
	el, ok := p.elements[args[0].Value]
	if !ok {
		return scriptNull(), nil
	}

	switch {
	case strings.Contains(fn, "getAttribute"):
		if len(args) < 2 {
			return nil, &bidi.Error{Code: "invalid argument", Message: "missing attribute name"}
		}
		v, ok := el.Attrs[args[1].Value]
		if !ok {
			return scriptNull(), nil
		}
		return scriptString(v), nil

	case strings.Contains(fn, "getBoundingClientRect"):
		box, _ := json.Marshal(el.Box)
		return scriptString(string(box)), nil

	case strings.Contains(fn, "textContent"):
		return scriptString(strings.TrimSpace(el.Text)), nil

	default:
		return nil, &bidi.Error{Code: "javascript error", Message: fmt.Sprintf("unsupported function %q", fn)}
	}
}

func scriptNull() map[string]any {
	return map[string]any{"type": "success", "result": map[string]any{"type": "null"}}
}

func scriptString(s string) map[string]any {
	return map[string]any{"type": "success", "result": map[string]any{"type": "string", "value": s}}
}
