package browser

import (
	"context"

	"github.com/randomizedcoder/go-vibium-sync/internal/bidi"
	"github.com/randomizedcoder/go-vibium-sync/internal/bridge"
	"github.com/randomizedcoder/go-vibium-sync/internal/session"
)

// Element is a handle to an element found by Browser.Find. Actions locate
// the element again by its selector, so they see the page as it is now.
type Element struct {
	bridge   *bridge.Bridge
	id       int
	selector string
	info     ElementInfo
}

// Click waits until the element is actionable and clicks it.
func (e *Element) Click(ctx context.Context, opts ActionOptions) error {
	_, err := e.bridge.Call(ctx, "element.click", e.id, session.ActionOptions{Timeout: opts.Timeout})
	return err
}

// Type waits until the element is editable and types text into it.
func (e *Element) Type(ctx context.Context, text string, opts ActionOptions) error {
	_, err := e.bridge.Call(ctx, "element.type", e.id, text, session.ActionOptions{Timeout: opts.Timeout})
	return err
}

// Text returns the element's trimmed text content.
func (e *Element) Text(ctx context.Context) (string, error) {
	res, err := e.bridge.Call(ctx, "element.text", e.id)
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GetAttribute returns the attribute value, or nil when it is not set.
func (e *Element) GetAttribute(ctx context.Context, name string) (*string, error) {
	res, err := e.bridge.Call(ctx, "element.getAttribute", e.id, name)
	if err != nil {
		return nil, err
	}
	return res.(*string), nil
}

// BoundingBox returns the element's current position and size.
func (e *Element) BoundingBox(ctx context.Context) (BoundingBox, error) {
	res, err := e.bridge.Call(ctx, "element.boundingBox", e.id)
	if err != nil {
		return bidi.BoundingBox{}, err
	}
	return res.(bidi.BoundingBox), nil
}

// Info returns what was known about the element when it was found.
func (e *Element) Info() ElementInfo {
	return e.info
}

// Selector returns the CSS selector the element was found with.
func (e *Element) Selector() string {
	return e.selector
}
