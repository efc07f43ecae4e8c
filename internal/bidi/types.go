package bidi

import "encoding/json"

// command is the outgoing envelope.
type command struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// message is any incoming frame. Responses carry an id, events carry a
// method, and an id-less frame with only an error is a connection error.
type message struct {
	ID     *uint64         `json:"id,omitempty"`
	Type   string          `json:"type,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// wireError is the error body of a failed response.
type wireError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// Event is an unsolicited message from the server.
type Event struct {
	Method string
	Params json.RawMessage
}

// BrowsingContextInfo describes one top-level browsing context.
type BrowsingContextInfo struct {
	Context  string                `json:"context"`
	URL      string                `json:"url"`
	Children []BrowsingContextInfo `json:"children,omitempty"`
	Parent   string                `json:"parent,omitempty"`
}

// BrowsingContextTree is the result of browsingContext.getTree.
type BrowsingContextTree struct {
	Contexts []BrowsingContextInfo `json:"contexts"`
}

// NavigationResult is the result of browsingContext.navigate.
type NavigationResult struct {
	Navigation string `json:"navigation"`
	URL        string `json:"url"`
}

// ScreenshotResult is the result of browsingContext.captureScreenshot.
// Data is base64-encoded PNG.
type ScreenshotResult struct {
	Data string `json:"data"`
}

// BoundingBox is an element's position in CSS pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is what vibium:find reports about a matched element.
type ElementInfo struct {
	Tag  string      `json:"tag"`
	Text string      `json:"text"`
	Box  BoundingBox `json:"box"`
}

// ScriptValue is a serialized remote value.
type ScriptValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ScriptResult is the result of script.callFunction.
type ScriptResult struct {
	Type   string      `json:"type"`
	Result ScriptValue `json:"result"`
}

// IsNull reports whether the function returned null or undefined.
func (r ScriptResult) IsNull() bool {
	return r.Result.Type == "null" || r.Result.Type == "undefined"
}

// String decodes a string result.
func (r ScriptResult) String() (string, error) {
	var s string
	if err := json.Unmarshal(r.Result.Value, &s); err != nil {
		return "", err
	}
	return s, nil
}
