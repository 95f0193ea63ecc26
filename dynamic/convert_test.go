package dynamic

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/anirudhraja/protocodec/wire"
)

func TestFromMap_Coercion(t *testing.T) {
	series, _, _ := testSchema()

	var data map[string]any
	dec := json.NewDecoder(strings.NewReader(`{
		"name": "cpu_seconds",
		"samples": [{"value": 1.5, "timestamp": "1700000000000"}, {"value": 2, "timestamp": 1700000001000}],
		"labels": {"job": "api"},
		"kind": "GAUGE",
		"priority": 7,
		"port": 9090,
		"deltas": [-1, 2, "-3"],
		"latestSample": {"value": "NaN"},
		"blob": "AQID"
	}`))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		t.Fatal(err)
	}

	m, err := FromMap(series, data)
	if err != nil {
		t.Fatalf("FromMap failed: %v", err)
	}
	if err := Verify(m); err != nil {
		t.Fatalf("coerced message does not verify: %v", err)
	}

	got := ToMap(m, MapOptions{EnumsAsNames: true, StringKeys: true})
	latest := got["latest"].(map[string]any)
	delete(got, "latest")
	want := map[string]any{
		"name": "cpu_seconds",
		"samples": []any{
			map[string]any{"value": 1.5, "timestamp": int64(1700000000000)},
			map[string]any{"value": float64(2), "timestamp": int64(1700000001000)},
		},
		"labels":   map[string]any{"job": "api"},
		"kind":     "GAUGE",
		"priority": int32(7),
		"port":     uint32(9090),
		"deltas":   []any{int64(-1), int64(2), int64(-3)},
		"blob":     []byte{1, 2, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToMap mismatch (-want +got):\n%s", diff)
	}
	if v, ok := latest["value"].(float64); !ok || v == v {
		t.Errorf("latest.value = %v, want NaN", latest["value"])
	}
}

func TestFromMap_TypedGoValues(t *testing.T) {
	series, _, _ := testSchema()
	m, err := FromMap(series, map[string]any{
		"labels": map[string]string{"a": "b"},
		"deltas": []int{1, 2},
		"kind":   2,
		"latest": map[string]any{"timestamp": wire.LongFromInt64(-5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]any{int64(1), int64(2)}, m.Get(8)); diff != "" {
		t.Errorf("deltas mismatch (-want +got):\n%s", diff)
	}
	if m.Get(4) != int32(2) {
		t.Errorf("kind = %v", m.Get(4))
	}
	latest := m.Get(9).(*Message)
	if latest.Get(2) != int64(-5) {
		t.Errorf("latest.timestamp = %v", latest.Get(2))
	}
}

func TestFromMap_Errors(t *testing.T) {
	series, _, _ := testSchema()

	tests := []struct {
		name     string
		data     map[string]any
		sentinel error
		path     string
	}{
		{"unknown_key", map[string]any{"nope": 1}, wire.ErrUnknownField, "nope"},
		{"int32_overflow", map[string]any{"priority": int64(1) << 40}, wire.ErrTypeMismatch, "priority"},
		{"fractional_int", map[string]any{"priority": 1.5}, wire.ErrTypeMismatch, "priority"},
		{"negative_unsigned", map[string]any{"port": -1}, wire.ErrTypeMismatch, "port"},
		{"bad_enum_name", map[string]any{"kind": "HISTOGRAM"}, wire.ErrTypeMismatch, "kind"},
		{"int_for_string_field", map[string]any{"name": 12}, wire.ErrTypeMismatch, "name"},
		{"scalar_for_list", map[string]any{"deltas": int64(1)}, wire.ErrTypeMismatch, "deltas"},
		{"nested_bad_value", map[string]any{"samples": []any{map[string]any{}, map[string]any{"value": "x"}}}, wire.ErrTypeMismatch, "samples.1.value"},
		{"bad_literal", map[string]any{"latest": map[string]any{"timestamp": "12abc"}}, wire.ErrTypeMismatch, "latest.timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromMap(series, tt.data)
			if !errors.Is(err, tt.sentinel) {
				t.Fatalf("expected %v, got %v", tt.sentinel, err)
			}
			var fe *wire.FieldError
			if !errors.As(err, &fe) || fe.Path() != tt.path {
				t.Errorf("path = %v, want %s", err, tt.path)
			}
		})
	}
}

func TestToMap_Options(t *testing.T) {
	series, _, _ := testSchema()
	m := New(series)
	_ = m.Set(4, int32(9))
	_ = m.PutMapEntry(3, "k", "v")
	m.SetUnknown([]byte{0xa0, 0x06, 0x01})

	plain := ToMap(m, MapOptions{})
	if plain["kind"] != int32(9) {
		t.Errorf("undeclared enum number should stay numeric, got %v", plain["kind"])
	}
	if _, ok := plain["labels"].(map[any]any); !ok {
		t.Errorf("labels = %T, want map[any]any", plain["labels"])
	}
	if diff := cmp.Diff([]byte{0xa0, 0x06, 0x01}, plain[UnknownFieldsKey]); diff != "" {
		t.Errorf("unknown bytes mismatch:\n%s", diff)
	}

	withDefaults := ToMap(New(series), MapOptions{PopulateDefaults: true, EnumsAsNames: true, UseJSONNames: true})
	want := map[string]any{
		"name":     "",
		"kind":     "KIND_UNSPECIFIED",
		"priority": int32(0),
		"blob":     []byte{},
	}
	if diff := cmp.Diff(want, withDefaults); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	back, err := FromMap(series, plain)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(m) {
		t.Errorf("map round trip changed the message: %v vs %v", back, m)
	}
}

func TestJSONName(t *testing.T) {
	tests := map[string]string{
		"user_name":      "userName",
		"value":          "value",
		"Value":          "value",
		"a_b_c":          "aBC",
		"metric_family_": "metricFamily",
	}
	for in, want := range tests {
		if got := JSONName(in); got != want {
			t.Errorf("JSONName(%q) = %q, want %q", in, got, want)
		}
	}
}
