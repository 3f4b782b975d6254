// Package humastar connects Huma operations to the Datastar browser runtime.
//
// Viewer handlers embed [Handler], open a stream with [Handler.Stream] and
// push state through [SSE]: HTML fragments replace elements by selector,
// signals update the client store, and scripts drive the map renderer.
// Datastar posts the client store back as a flat JSON body, which
// [SignalsInput] decodes.
//
//	func (h *Handler) Dismiss(ctx context.Context, in *SessionInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Replace(h.Renderer.MustRender("info-card", view), "#info-card")
//	    }), nil
//	}
package humastar

import (
	"bytes"
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-choropleth/internal/templates"
)

// Handler is embedded by handlers that answer with Datastar event streams.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn as a Huma streaming response.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			fn(NewSSE(ctx))
		},
	}
}

// RenderSelect renders <option> elements with the handler's renderer.
func (h *Handler) RenderSelect(placeholder string, options []SelectOptionData) string {
	return RenderSelect(h.Renderer, placeholder, options)
}

// SSE is a Datastar event generator bound to one Huma response.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE starts a Datastar stream on the response behind ctx. It requires
// the humago adapter.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the children of selector.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeInner(), datastar.WithViewTransitions())
}

// Replace replaces the element at selector.
func (s SSE) Replace(html, selector string) {
	s.PatchElements(html, datastar.WithSelector(selector), datastar.WithModeOuter(), datastar.WithViewTransitions())
}

// Script runs js once in the browser.
func (s SSE) Script(js string) {
	s.ExecuteScript(js)
}

// Error sets the "error" signal.
func (s SSE) Error(msg string) { s.Signals(map[string]any{"error": msg}) }

// Success sets the "success" signal.
func (s SSE) Success(msg string) { s.Signals(map[string]any{"success": msg}) }

// Signals merges signals into the client store.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Signals is the decoded client store. JSON numbers arrive as float64.
type Signals map[string]any

// ParseSignals decodes a Datastar request body.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

func lookup[T any](s Signals, key string) T {
	v, _ := s[key].(T)
	return v
}

// String returns the string signal at key, or "".
func (s Signals) String(key string) string { return lookup[string](s, key) }

// Float returns the numeric signal at key, or 0.
func (s Signals) Float(key string) float64 { return lookup[float64](s, key) }

// Int returns the numeric signal at key truncated toward zero.
func (s Signals) Int(key string) int { return int(s.Float(key)) }

// Bool returns the boolean signal at key, or false.
func (s Signals) Bool(key string) bool { return lookup[bool](s, key) }

// Has reports whether key is present, whatever its value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// SignalsInput receives the raw Datastar request body.
type SignalsInput struct {
	RawBody []byte
}

// MustParse decodes the body or fails with a 400.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return signals, nil
}

// SelectOptionData feeds the "select-option" fragment.
type SelectOptionData struct {
	Value    string
	Label    string
	Selected bool
}

// RenderSelect renders a placeholder option followed by options.
func RenderSelect(r *templates.Renderer, placeholder string, options []SelectOptionData) string {
	var buf bytes.Buffer
	r.RenderToBuffer(&buf, "select-option", SelectOptionData{Label: placeholder})
	for _, opt := range options {
		r.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}
