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
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestEvaluateObject(t *testing.T) {
	testCases := []struct {
		name     string
		objects  []interface{}
		context  map[string]interface{}
		expected interface{}
		wantErr  bool
	}{
		{
			name: "nil",
			objects: []interface{}{
				nil,
				"{{yaml true}}{{ `` }}",
				"{{yaml true}}{{ ` \n ` }}",
			},
			expected: nil,
		},
		{
			name:     "empty string",
			objects:  []interface{}{"", "{{ `` }}"},
			expected: "",
		},
		{
			name:     "whitespace preserved",
			objects:  []interface{}{" \n ", "{{ ` \n ` }}"},
			expected: " \n ",
		},
		{
			name: "plain string",
			objects: []interface{}{
				"hello",
				"{{yaml false}}hello",
				"{{yaml true}}hello",
			},
			expected: "hello",
		},
		{
			name: "map with scalar and yaml leaves",
			objects: []interface{}{
				map[string]interface{}{
					"a": int64(42),
					"b": "{{ printf `%d` 3 }}",
					"c": "{{yaml true}}{{ printf `%d` 3 }}",
				},
			},
			expected: map[string]interface{}{
				"a": int64(42),
				"b": "3",
				"c": float64(3),
			},
		},
		{
			name: "context variables and conditionals",
			objects: []interface{}{
				map[string]interface{}{
					"a": map[string]interface{}{
						"1": "ab{{if eq .b 3}}c{{end}}",
					},
					"b": []interface{}{"hello", "{{ .c }}"},
				},
			},
			context: map[string]interface{}{"b": 3, "c": 4},
			expected: map[string]interface{}{
				"a": map[string]interface{}{"1": "abc"},
				"b": []interface{}{"hello", "4"},
			},
		},
		{
			name:     "interpolation",
			objects:  []interface{}{"a{{ `42` }}b"},
			expected: "a42b",
		},
		{
			name:     "yaml subtree",
			objects:  []interface{}{"{{yaml true}}x: {{ .v }}"},
			context:  map[string]interface{}{"v": `[1, "2", 3]`},
			expected: map[string]interface{}{"x": []interface{}{float64(1), "2", float64(3)}},
		},
		{
			name:    "bad syntax",
			objects: []interface{}{"{{", "{{ }}"},
			wantErr: true,
		},
		{
			name:     "number strings",
			objects:  []interface{}{"42", "{{ 42 }}", "{{ `42` }}"},
			expected: "42",
		},
		{
			name:     "yaml number",
			objects:  []interface{}{"{{yaml true}}{{ 42 }}"},
			expected: float64(42),
		},
		{
			name:    "missing variable",
			objects: []interface{}{"{{ .abc }}"},
			wantErr: true,
		},
		{
			name:     "toShellToken empty",
			objects:  []interface{}{"{{ toShellToken `` }}"},
			expected: "''",
		},
		{
			name:     "toShellToken newline",
			objects:  []interface{}{"{{ toShellToken \"\\n\" }}"},
			expected: `$'\n'`,
		},
		{
			name:     "toShellToken mixed",
			objects:  []interface{}{"{{ toShellToken \" a\\nb\" }}"},
			expected: `' a'$'\n'b`,
		},
		{
			name:     "toShellToken number",
			objects:  []interface{}{"{{ toShellToken 42 }}", "{{ toShellToken `42` }}"},
			expected: "42",
		},
		{
			name:    "toShellToken non-scalar",
			objects: []interface{}{"{{ toShellToken .l }}"},
			context: map[string]interface{}{"l": []interface{}{42}},
			wantErr: true,
		},
		{
			name:     "toStructuredJSON string",
			objects:  []interface{}{"{{ toStructuredJSON \" a\\nb \" }}"},
			expected: "\" a\\nb \"",
		},
		{
			name:     "toStructuredJSON map",
			objects:  []interface{}{"{{ toStructuredJSON .m }}"},
			context:  map[string]interface{}{"m": map[string]interface{}{"a": "1", "b": 2}},
			expected: `{"a":"1","b":2}`,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			for i, object := range testCase.objects {
				engine := NewEngine(testCase.context, Hooks{})
				result, err := engine.EvaluateObject(context.Background(), "spec", object)
				if testCase.wantErr {
					if err == nil {
						t.Fatalf("object %d: expected error, got %#v", i, result)
					}
					continue
				}
				if err != nil {
					t.Fatalf("object %d: unexpected error: %v", i, err)
				}
				if !reflect.DeepEqual(result, testCase.expected) {
					t.Fatalf("object %d: expected %#v, got %#v", i, testCase.expected, result)
				}
			}
		})
	}
}

func TestEvaluateDeterminism(t *testing.T) {
	object := map[string]interface{}{
		"script": "echo {{ toShellToken .name }}\n{{if .ro}}readonly{{end}}\n",
		"json":   "{{ toStructuredJSON .params }}",
	}
	evalContext := map[string]interface{}{
		"name":   "pvc one\ntwo",
		"ro":     true,
		"params": map[string]interface{}{"x": "1", "y": "2", "z": "3"},
	}

	engine := NewEngine(evalContext, Hooks{})
	first, err := engine.EvaluateObject(context.Background(), "spec", object)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := engine.EvaluateObject(context.Background(), "spec", object)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprintf("%#v", first) != fmt.Sprintf("%#v", again) {
			t.Fatalf("evaluation is not deterministic: %#v != %#v", first, again)
		}
	}
}

func TestStatementLineStripping(t *testing.T) {
	engine := NewEngine(map[string]interface{}{"x": true}, Hooks{})

	result, err := engine.EvaluateString(context.Background(), "spec", "  {{if .x}}\na\n  {{end}}\n")
	if err != nil {
		t.Fatal(err)
	}
	if result != "a\n" {
		t.Fatalf("expected %q, got %q", "a\n", result)
	}
}

func TestLookupClaimHook(t *testing.T) {
	hooks := Hooks{
		LookupClaim: func(_ context.Context, name, namespace string) (map[string]interface{}, error) {
			if name != "my-claim" || namespace != "my-ns" {
				return nil, fmt.Errorf("unexpected claim %s/%s", namespace, name)
			}
			return map[string]interface{}{
				"metadata": map[string]interface{}{"name": name},
			}, nil
		},
	}

	engine := NewEngine(nil, hooks)
	result, err := engine.EvaluateString(
		context.Background(), "spec",
		"{{ (lookupClaim `my-claim` `my-ns`).metadata.name }}",
	)
	if err != nil {
		t.Fatal(err)
	}
	if result != "my-claim" {
		t.Fatalf("expected %q, got %v", "my-claim", result)
	}

	if _, err = NewEngine(nil, Hooks{}).EvaluateString(
		context.Background(), "spec", "{{ lookupClaim `a` `b` }}",
	); err == nil {
		t.Fatal("expected error when lookupClaim hook is missing")
	}
}

func TestValidate(t *testing.T) {
	valid := []interface{}{
		nil,
		"hello {{ .name }}",
		map[string]interface{}{"a": []interface{}{int64(1), "{{ .b }}"}},
	}
	for i, object := range valid {
		if err := Validate("spec", object); err != nil {
			t.Fatalf("object %d: unexpected error: %v", i, err)
		}
	}

	invalid := []interface{}{
		"{{",
		map[string]interface{}{"a": "{{ end }}"},
		map[string]interface{}{"a": struct{}{}},
	}
	for i, object := range invalid {
		if err := Validate("spec", object); err == nil {
			t.Fatalf("object %d: expected error", i)
		}
	}
}
