// resource.go — State-dependent actions on resources.
//
// A response body that implements Actor gets one RFC 8288 Link header per
// Action from LinkTransformer, e.g.
//
//	</api/v1/sessions/42/events>; rel="events"; method="POST"; title="Send renderer event"
package humastar

import (
	"fmt"
	"strings"
)

// Action is one link a client may follow from the current resource state.
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
	Schema string // JSON Schema URL of the request body, if any
}

// Actor is implemented by response bodies that advertise actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader renders the action with method, title and schema parameters.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel="%s"`, a.Href, a.Rel)
	for _, p := range [][2]string{{"method", a.Method}, {"title", a.Title}, {"schema", a.Schema}} {
		if p[1] != "" {
			fmt.Fprintf(&b, `; %s="%s"`, p[0], p[1])
		}
	}
	return b.String()
}

// ActionDef is an action template; Pattern holds a single %s for the
// resource id.
type ActionDef struct {
	Rel     string
	Pattern string
	Method  string
	Title   string
	Schema  string
	// When, if set, decides whether the action applies in the given state.
	When func(state string) bool
}

// ActionsFor generates the Action values that apply to resource id in state.
func ActionsFor(id, state string, defs []ActionDef) []Action {
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		if d.When != nil && !d.When(state) {
			continue
		}
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   fmt.Sprintf(d.Pattern, id),
			Method: d.Method,
			Title:  d.Title,
			Schema: d.Schema,
		})
	}
	return actions
}
