package predicate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/edgecomet/imposter/pkg/types"
)

// extractSelector applies a selector against raw text, returning the
// extracted value as a string (its canonical JSON form for non-scalar
// results) and whether extraction succeeded. A selector-less field is
// passed through unchanged by the caller; this
// function is only invoked when a Selector is actually configured.
// ExtractSelector is the exported form of extractSelector, used by the
// response-behaviors applier (internal/behaviors) to pull a Copy/Lookup
// behavior's captured value from request text using the same JSONPath/XPath
// support the predicate engine itself uses.
func ExtractSelector(raw string, sel *types.Selector) (string, bool) {
	return extractSelector(raw, sel)
}

func extractSelector(raw string, sel *types.Selector) (string, bool) {
	if sel == nil {
		return raw, true
	}
	if sel.JSONPath != "" {
		return extractJSONPath(raw, sel.JSONPath)
	}
	if sel.XPath != "" {
		return extractXPath(raw, sel.XPath, sel.Namespaces)
	}
	return raw, true
}

// extractJSONPath implements a deliberately small JSONPath subset: dotted
// field access and integer bracket indexing, e.g. "$.store.books[0].title".
// There is no library in the retrieved corpus whose JSONPath contract could
// be confirmed without running the toolchain (dolthub/jsonpath is an
// indirect transitive dependency of go-mysql-server with no usage example
// anywhere in the pack), so this hand-rolled walker over encoding/json's
// generic decode is the documented stdlib fallback (see DESIGN.md).
func extractJSONPath(body string, path string) (string, bool) {
	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return "", false
	}
	cur := doc
	for _, tok := range tokenizeJSONPath(path) {
		if tok.index != nil {
			arr, ok := cur.([]any)
			if !ok || *tok.index < 0 || *tok.index >= len(arr) {
				return "", false
			}
			cur = arr[*tok.index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		v, ok := obj[tok.key]
		if !ok {
			return "", false
		}
		cur = v
	}
	return jsonValueToString(cur), true
}

type jsonPathToken struct {
	key   string
	index *int
}

// tokenizeJSONPath splits "$.a.b[2].c" into [a b 2 c]-shaped tokens,
// dropping the leading "$" root marker.
func tokenizeJSONPath(path string) []jsonPathToken {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	var tokens []jsonPathToken
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		for {
			open := strings.IndexByte(segment, '[')
			if open < 0 {
				if segment != "" {
					tokens = append(tokens, jsonPathToken{key: segment})
				}
				break
			}
			if open > 0 {
				tokens = append(tokens, jsonPathToken{key: segment[:open]})
			}
			close := strings.IndexByte(segment[open:], ']')
			if close < 0 {
				break
			}
			idxStr := segment[open+1 : open+close]
			if n, err := strconv.Atoi(idxStr); err == nil {
				tokens = append(tokens, jsonPathToken{index: &n})
			}
			segment = segment[open+close+1:]
		}
	}
	return tokens
}

func jsonValueToString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// extractXPath parses body as XML and evaluates an XPath expression,
// returning the matched node's text content. Namespace prefixes declared in
// sel.Namespaces are registered with the compiled expression so predicates
// can reference namespaced elements/attributes.
func extractXPath(body string, expr string, namespaces map[string]string) (string, bool) {
	doc, err := xmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	var compiled *xpath.Expr
	if len(namespaces) > 0 {
		compiled, err = xpath.CompileWithNS(expr, namespaces)
	} else {
		compiled, err = xpath.Compile(expr)
	}
	if err != nil {
		return "", false
	}
	nav := xmlquery.CreateXPathNavigator(doc)
	iter := compiled.Select(nav)
	if !iter.MoveNext() {
		return "", false
	}
	return iter.Current().Value(), true
}
