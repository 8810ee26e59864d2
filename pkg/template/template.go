// This file is part of PaV
// Copyright (c) 2022 The PaV Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package template

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	texttemplate "text/template"

	"sigs.k8s.io/yaml"
)

// LookupClaimFunc reads a persistent volume claim through the orchestrator
// client and returns it as a plain object.
type LookupClaimFunc func(ctx context.Context, name, namespace string) (map[string]interface{}, error)

// Hooks is the capability bag passed into evaluation. All hooks are
// optional; a missing hook fails templates that use it.
type Hooks struct {
	LookupClaim LookupClaimFunc
}

// Engine evaluates text templates over a named evaluation context. Pure
// except for the explicit hooks.
type Engine struct {
	context map[string]interface{}
	hooks   Hooks
}

// NewEngine creates an engine over the given evaluation context.
func NewEngine(context map[string]interface{}, hooks Hooks) *Engine {
	return &Engine{context: context, hooks: hooks}
}

// A line holding nothing but a single control statement loses its leading
// whitespace and trailing newline.
var statementLineRegexp = regexp.MustCompile(
	`(?m)^[ \t]*(\{\{-?\s*(?:if|else|end|range|with|define|block|template|\$).*?\}\})[ \t]*$\n?`,
)

func stripStatementLines(text string) string {
	return statementLineRegexp.ReplaceAllString(text, "$1")
}

type evalState struct {
	yaml bool
}

func (engine *Engine) funcs(ctx context.Context, state *evalState) texttemplate.FuncMap {
	return texttemplate.FuncMap{
		"yaml": func(value bool) string {
			state.yaml = value
			return ""
		},
		"toShellToken":     toShellToken,
		"toStructuredJSON": toStructuredJSON,
		"lookupClaim": func(name, namespace string) (map[string]interface{}, error) {
			if engine.hooks.LookupClaim == nil {
				return nil, fmt.Errorf("lookupClaim is not available in this context")
			}
			return engine.hooks.LookupClaim(ctx, name, namespace)
		},
	}
}

// EvaluateString evaluates a single string leaf. If the yaml sentinel
// became truthy during evaluation, the produced string is re-parsed as
// structured data and the resulting value is returned instead; the result
// is not re-evaluated. Errors are keyed by the template path.
func (engine *Engine) EvaluateString(ctx context.Context, path, text string) (interface{}, error) {
	state := &evalState{}

	tmpl, err := texttemplate.New(path).
		Option("missingkey=error").
		Funcs(engine.funcs(ctx, state)).
		Parse(stripStatementLines(text))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid template; %v", path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, engine.context); err != nil {
		return nil, fmt.Errorf("%s: template evaluation failed; %v", path, err)
	}

	if !state.yaml {
		return buf.String(), nil
	}

	var value interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &value); err != nil {
		return nil, fmt.Errorf("%s: result is not valid structured data; %v", path, err)
	}
	return value, nil
}

// EvaluateObject walks maps and lists recursively and evaluates every
// string leaf, substituting the evaluation result for the leaf. The input
// is never mutated.
func (engine *Engine) EvaluateObject(ctx context.Context, path string, obj interface{}) (interface{}, error) {
	switch value := obj.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(value))
		for _, key := range sortedKeys(value) {
			evaluated, err := engine.EvaluateObject(ctx, path+"."+key, value[key])
			if err != nil {
				return nil, err
			}
			result[key] = evaluated
		}
		return result, nil

	case []interface{}:
		result := make([]interface{}, len(value))
		for i, item := range value {
			evaluated, err := engine.EvaluateObject(ctx, fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			result[i] = evaluated
		}
		return result, nil

	case string:
		return engine.EvaluateString(ctx, path, value)

	default:
		return obj, nil
	}
}

// Validate checks the syntax of all templates in obj. It also ensures that
// only bool, float64, int, int32, int64, string, nil, list, and map values
// occur, and
// that map keys are strings.
func Validate(path string, obj interface{}) error {
	switch value := obj.(type) {
	case map[string]interface{}:
		for _, key := range sortedKeys(value) {
			if err := Validate(path+"."+key, value[key]); err != nil {
				return err
			}
		}
		return nil

	case []interface{}:
		for i, item := range value {
			if err := Validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
		return nil

	case string:
		engine := NewEngine(nil, Hooks{})
		state := &evalState{}
		_, err := texttemplate.New(path).
			Funcs(engine.funcs(context.Background(), state)).
			Parse(stripStatementLines(value))
		if err != nil {
			return fmt.Errorf("%s: invalid template; %v", path, err)
		}
		return nil

	case bool, float64, int, int32, int64, nil:
		return nil

	default:
		return fmt.Errorf("%s: unsupported type %T", path, obj)
	}
}

// ContainsTemplate reports whether the string carries a template opening
// token.
func ContainsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var plainShellTokenRegexp = regexp.MustCompile(`^[a-zA-Z0-9_@%+=:,./-]+$`)

func quoteShellToken(s string) string {
	if s == "" {
		return ""
	}
	if plainShellTokenRegexp.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// toShellToken encodes a string or numeric value into a single-token shell
// literal. Newlines are escaped using ANSI-C quoting so the result never
// spans lines.
func toShellToken(value interface{}) (string, error) {
	str, err := scalarString(value, "toShellToken")
	if err != nil {
		return "", err
	}

	if str == "" {
		return "''", nil
	}

	parts := strings.Split(str, "\n")
	for i, part := range parts {
		parts[i] = quoteShellToken(part)
	}
	return strings.Join(parts, `$'\n'`), nil
}

// toStructuredJSON encodes any value as JSON without emitting newline
// characters.
func toStructuredJSON(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("toStructuredJSON: %v", err)
	}
	return string(data), nil
}

func scalarString(value interface{}, filter string) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return fmt.Sprintf("%d", v), nil
	case int32:
		return fmt.Sprintf("%d", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), nil
		}
		return fmt.Sprintf("%v", v), nil
	default:
		return "", fmt.Errorf("%s expects a string or numeric value, got %T", filter, value)
	}
}
