// Package matchfilter selects matches with jq expressions evaluated against
// their JSON form, e.g. `.confidence >= 80 and .protocol == "privacy-cash"`.
package matchfilter

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
)

// Filter holds compiled jq expressions. A match passes when every
// expression yields a truthy first result.
type Filter struct {
	codes   []*gojq.Code
	sources []string
}

// Compile parses and compiles the expressions. No expressions yields a
// filter that passes everything.
func Compile(exprs ...string) (*Filter, error) {
	f := &Filter{}
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		f.codes = append(f.codes, code)
		f.sources = append(f.sources, expr)
	}
	return f, nil
}

// Match reports whether m passes every expression. A runtime jq error is
// returned along with false.
func (f *Filter) Match(m *models.Match) (bool, error) {
	if f == nil || len(f.codes) == 0 {
		return true, nil
	}

	doc, err := toJQValue(m)
	if err != nil {
		return false, err
	}

	for i, code := range f.codes {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, fmt.Errorf("jq filter %q: %w", f.sources[i], err)
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// gojq only accepts values shaped like encoding/json's generic decoding
func toJQValue(m *models.Match) (any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal match: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal match: %w", err)
	}
	return doc, nil
}

// isTruthy follows jq: only false and null are falsy
func isTruthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		return true
	}
}
