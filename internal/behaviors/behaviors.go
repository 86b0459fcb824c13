// Package behaviors applies Mountebank-style response behaviors (wait,
// copy, lookup) to a materialized error-fault response. It reuses the
// predicate engine's selector extraction (internal/predicate.ExtractSelector)
// for the copy/lookup substitution semantics: a captured request value is
// spliced into the response body or headers wherever a "${into}" token
// appears.
package behaviors

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/edgecomet/imposter/internal/predicate"
	"github.com/edgecomet/imposter/pkg/types"
)

// Apply returns body/headers with every configured copy/lookup substitution
// applied, plus any additional wait duration the behaviors declare. Repeat
// is not applicable here: it governs how many times a Mountebank stub
// response cycles across successive requests, a concept this proxy's
// single-shot fault materialization has no equivalent for.
func Apply(req *types.RequestContext, body []byte, headers map[string]string, b *types.ResponseBehaviors) ([]byte, map[string]string, time.Duration) {
	if b == nil {
		return body, headers, 0
	}

	out := string(body)
	outHeaders := headers

	for _, c := range b.Copy {
		value, ok := fetchWithSelector(req, c.From, c.Selector)
		if !ok {
			continue
		}
		token := "${" + c.Into + "}"
		out = strings.ReplaceAll(out, token, value)
		outHeaders = substituteHeaders(outHeaders, token, value)
	}

	for _, l := range b.Lookup {
		raw, ok := fetchField(req, l.Key)
		if !ok {
			continue
		}
		value, ok := l.Table[raw]
		if !ok {
			continue
		}
		token := "${" + l.Into + "}"
		out = strings.ReplaceAll(out, token, value)
		outHeaders = substituteHeaders(outHeaders, token, value)
	}

	return []byte(out), outHeaders, wait(b.Wait)
}

// substituteHeaders applies one token substitution across header values.
// The incoming map is the compiled rule's own header map, shared by every
// request (and by cached decisions), so it is never mutated: a clone is
// made the first time a value actually changes, and the original is
// returned untouched when nothing matches.
func substituteHeaders(headers map[string]string, token, value string) map[string]string {
	if len(headers) == 0 {
		return headers
	}
	var out map[string]string
	for k, v := range headers {
		replaced := strings.ReplaceAll(v, token, value)
		if replaced == v {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(headers))
			for ck, cv := range headers {
				out[ck] = cv
			}
		}
		out[k] = replaced
	}
	if out == nil {
		return headers
	}
	return out
}

func wait(w *types.WaitBehavior) time.Duration {
	if w == nil {
		return 0
	}
	if w.FixedMS > 0 {
		return time.Duration(w.FixedMS) * time.Millisecond
	}
	if w.MaxMS > w.MinMS {
		return time.Duration(w.MinMS+rand.Int64N(w.MaxMS-w.MinMS+1)) * time.Millisecond
	}
	return time.Duration(w.MinMS) * time.Millisecond
}

// fetchWithSelector resolves a Copy behavior's "from" field, applying a
// JSONPath/XPath selector if the behavior declares one.
func fetchWithSelector(req *types.RequestContext, from, selectorExpr string) (string, bool) {
	raw, ok := fetchField(req, from)
	if !ok {
		return "", false
	}
	if selectorExpr == "" {
		return raw, true
	}
	return predicate.ExtractSelector(raw, &types.Selector{JSONPath: selectorExpr})
}

// fetchField resolves a dotted field reference ("query.id", "headers.x-foo")
// or a bare scalar field ("method", "path", "body") against req.
func fetchField(req *types.RequestContext, field string) (string, bool) {
	name, sub, hasSub := strings.Cut(field, ".")
	switch name {
	case types.FieldMethod:
		return req.Method, true
	case types.FieldPath:
		return req.Path, true
	case types.FieldBody:
		return string(req.Body), true
	case types.FieldIP:
		return req.ClientIP, req.ClientIP != ""
	case types.FieldRequestFrom:
		return req.RequestFrom, req.RequestFrom != ""
	case types.FieldQuery:
		if !hasSub {
			return "", false
		}
		return req.QueryValue(sub)
	case types.FieldHeaders:
		if !hasSub {
			return "", false
		}
		return req.HeaderValue(strings.ToLower(sub))
	case types.FieldForm:
		if !hasSub {
			return "", false
		}
		return req.FormValue(sub)
	default:
		return "", false
	}
}
