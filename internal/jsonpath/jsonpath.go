// Package jsonpath implements the small path-expression language the
// declarative field mapping uses to address nodes inside arbitrary
// decoded JSON: dotted names, bracket indexing and wildcards. Evaluation
// is a pure function of (document, path) with a bounded result size.
package jsonpath

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"calsync/internal/model"
)

// MaxResults bounds the matched node set. Evaluation truncates at the
// bound instead of failing.
const MaxResults = 1000

type tokenKind int

const (
	tokenName tokenKind = iota
	tokenIndex
	tokenWildcard
)

type token struct {
	kind  tokenKind
	name  string
	index int
}

// Evaluate returns every node the path matches in the document, in a
// deterministic order. Paths look like "events[*].start" or
// "data.items[0].title"; "*" matches every element of a list or every
// value of an object (object values in key order). A hit of the result
// bound returns the truncated set together with a CapacityError.
func Evaluate(doc any, path string) ([]any, error) {
	tokens, err := tokenize(path)
	if err != nil {
		return nil, err
	}

	nodes := []any{doc}
	truncated := false
	for _, tok := range tokens {
		var next []any
		for _, node := range nodes {
			next = step(node, tok, next)
			if len(next) > MaxResults {
				next = next[:MaxResults]
				truncated = true
				break
			}
		}
		nodes = next
		if len(nodes) == 0 {
			break
		}
	}

	if truncated {
		return nodes, &model.CapacityError{What: "path extraction", Limit: MaxResults}
	}
	return nodes, nil
}

// First returns the first match, or nil when the path matches nothing.
func First(doc any, path string) any {
	nodes, err := Evaluate(doc, path)
	if err != nil && nodes == nil {
		return nil
	}
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func step(node any, tok token, out []any) []any {
	switch tok.kind {
	case tokenName:
		if m, ok := node.(map[string]any); ok {
			if v, present := m[tok.name]; present {
				out = append(out, v)
			}
		}
	case tokenIndex:
		if list, ok := node.([]any); ok && tok.index >= 0 && tok.index < len(list) {
			out = append(out, list[tok.index])
		}
	case tokenWildcard:
		switch v := node.(type) {
		case []any:
			out = append(out, v...)
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, v[k])
			}
		}
	}
	return out
}

// tokenize splits a path into name, index and wildcard tokens. Bracket
// suffixes attach to the preceding name: "items[2]" is a name token
// followed by an index token.
func tokenize(path string) ([]token, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("jsonpath: empty path")
	}

	var tokens []token
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, fmt.Errorf("jsonpath: empty segment in %q", path)
		}
		name := segment
		var brackets []string
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(name[open:], ']')
			if closing < 0 {
				return nil, fmt.Errorf("jsonpath: unclosed bracket in %q", segment)
			}
			brackets = append(brackets, name[open+1:open+closing])
			name = name[:open] + name[open+closing+1:]
		}

		switch {
		case name == "*":
			tokens = append(tokens, token{kind: tokenWildcard})
		case name != "":
			tokens = append(tokens, token{kind: tokenName, name: name})
		case len(brackets) == 0:
			return nil, fmt.Errorf("jsonpath: invalid segment %q", segment)
		}

		for _, b := range brackets {
			b = strings.TrimSpace(b)
			if b == "*" {
				tokens = append(tokens, token{kind: tokenWildcard})
				continue
			}
			idx, err := strconv.Atoi(b)
			if err != nil {
				return nil, fmt.Errorf("jsonpath: invalid index %q in %q", b, segment)
			}
			tokens = append(tokens, token{kind: tokenIndex, index: idx})
		}
	}
	return tokens, nil
}
