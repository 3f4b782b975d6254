package humastar

import (
	"fmt"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// StreamTag marks Datastar SSE operations. They are left out of hypermedia
// link generation since their responses are event streams.
const StreamTag = "viewer"

const (
	entryPath  = "/health"
	searchPath = "/api/v1/postcodes/{postcode}"
)

// linkMap stores the generated RFC 8288 link headers keyed by operation path.
var linkMap map[string][]string

type pathInfo struct {
	path string
	tags []string
}

// AutoLinks walks the OpenAPI spec and generates hypermedia links between
// collections, items and the entry point. Call after all routes are
// registered.
func AutoLinks(api huma.API) {
	oapi := api.OpenAPI()
	linkMap = map[string][]string{}

	var collections, items []pathInfo
	for p, pi := range oapi.Paths {
		tags := primaryTags(pi)
		if hasTag(tags, StreamTag) {
			continue
		}
		if strings.Contains(p, "{") {
			items = append(items, pathInfo{p, tags})
		} else {
			collections = append(collections, pathInfo{p, tags})
		}
	}
	_, hasSearch := oapi.Paths[searchPath]

	// Items point back at their collection, or their nearest ancestor path.
	for _, item := range items {
		if parent := parentPath(oapi, item.path); parent != "" {
			addLink(item.path, parent, "collection")
			addLink(item.path, parent, "up")
		}
	}

	for _, coll := range collections {
		for _, item := range items {
			if path.Dir(item.path) == coll.path {
				addLink(coll.path, item.path, "item")
			}
		}
		if coll.path != entryPath {
			addLink(coll.path, entryPath, "up")
		}
		if oapi.Paths[coll.path].Post != nil {
			addLink(coll.path, coll.path, "create-form")
		}
	}

	// Collections sharing a tag link to each other by name.
	for i, a := range collections {
		for j, b := range collections {
			if i != j && sharedTag(a.tags, b.tags) {
				addLink(a.path, b.path, lastSegment(b.path))
			}
		}
	}

	for _, coll := range collections {
		if coll.path != entryPath {
			addLink(entryPath, coll.path, lastSegment(coll.path))
		}
	}
	addLink(entryPath, "/openapi.json", "describedby")
	addLink(entryPath, "/openapi.json", "service-desc")
	addLink(entryPath, "/docs", "service-doc")
	if hasSearch {
		addLink(entryPath, searchPath, "search")
	}

	for _, all := range [][]pathInfo{collections, items} {
		for _, pi := range all {
			if ref := responseSchemaRef(oapi.Paths[pi.path]); ref != "" {
				addLink(pi.path, "/openapi.json#/components/schemas/"+ref, "describedby")
			}
		}
	}

	for p, pi := range oapi.Paths {
		headers, ok := linkMap[p]
		if !ok {
			continue
		}
		for _, op := range operationsOf(pi) {
			if op != nil {
				injectResponseLinks(op, headers)
			}
		}
	}
}

// LinkTransformer returns a Huma Transformer that injects the generated
// RFC 8288 Link headers at runtime.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range linkMap[op.Path] {
			ctx.AppendHeader("Link", link)
		}

		// Item endpoints get a self link with the resolved URL.
		if strings.Contains(op.Path, "{") {
			ctx.AppendHeader("Link", fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}

		if p, ok := v.(Pager); ok {
			for _, link := range p.PaginationLinks(ctx.URL().Path) {
				ctx.AppendHeader("Link", link)
			}
		}

		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				ctx.AppendHeader("Link", action.LinkHeader())
			}
		}

		return v, nil
	}
}

// Links returns the generated Link header values for an operation path.
func Links(opPath string) []string {
	return linkMap[opPath]
}

// parentPath finds the closest registered ancestor of p, skipping path
// segments that are not operations themselves (/sessions/{id}/events).
func parentPath(oapi *huma.OpenAPI, p string) string {
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		if _, ok := oapi.Paths[dir]; ok {
			return dir
		}
	}
	return ""
}

func addLink(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel="%s"`, to, rel)
	for _, existing := range linkMap[from] {
		if existing == val {
			return
		}
	}
	linkMap[from] = append(linkMap[from], val)
}

func primaryTags(pi *huma.PathItem) []string {
	for _, op := range operationsOf(pi) {
		if op != nil && len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func operationsOf(pi *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete}
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func sharedTag(a, b []string) bool {
	for _, t := range a {
		if hasTag(b, t) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	parts := strings.Split(strings.TrimRight(p, "/"), "/")
	return parts[len(parts)-1]
}

// injectResponseLinks adds OpenAPI Link objects to the operation's success
// response so the document itself carries the relationships.
func injectResponseLinks(op *huma.Operation, headers []string) {
	var resp *huma.Response
	for code, r := range op.Responses {
		if strings.HasPrefix(code, "2") {
			resp = r
			break
		}
	}
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		rel, href := parseLinkHeader(h)
		if rel == "" {
			continue
		}
		resp.Links[rel] = &huma.Link{
			OperationRef: href,
			Description:  "Related: " + rel,
		}
	}
}

func responseSchemaRef(pi *huma.PathItem) string {
	if pi.Get == nil {
		return ""
	}
	for code, resp := range pi.Get.Responses {
		if !strings.HasPrefix(code, "2") || resp.Content == nil {
			continue
		}
		for _, mt := range resp.Content {
			if mt.Schema != nil && mt.Schema.Ref != "" {
				return path.Base(mt.Schema.Ref)
			}
		}
	}
	return ""
}

func parseLinkHeader(h string) (rel, href string) {
	target, params, ok := strings.Cut(h, ";")
	if !ok {
		return "", ""
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	params = strings.TrimSpace(params)
	if v, ok := strings.CutPrefix(params, `rel="`); ok {
		rel = strings.TrimSuffix(v, `"`)
	}
	return rel, href
}
