package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// document remembers which keys a decoded JSON object carried and keeps the
// ones the Go type does not model, so a re-encode round-trips them verbatim.
type document struct {
	extra   map[string]json.RawMessage
	present map[string]bool
}

var knownFieldCache sync.Map // reflect.Type -> map[string]bool

func knownFields(t reflect.Type) map[string]bool {
	if cached, ok := knownFieldCache.Load(t); ok {
		return cached.(map[string]bool)
	}
	fields := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		fields[name] = true
	}
	knownFieldCache.Store(t, fields)
	return fields
}

// decode unmarshals data into v (a pointer to an alias struct) and captures
// presence and unknown keys.
func (d *document) decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := knownFields(reflect.TypeOf(v).Elem())
	d.present = make(map[string]bool, len(raw))
	d.extra = nil
	for k, val := range raw {
		d.present[k] = true
		if known[k] {
			continue
		}
		if d.extra == nil {
			d.extra = make(map[string]json.RawMessage)
		}
		d.extra[k] = val
	}
	return nil
}

// encode marshals v (an alias struct value) and merges the captured extras.
// Known fields that are null or "" and were absent from the source are
// dropped, as is a 0 absent from a decoded source.
func (d document) encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("re-decode %T: %w", v, err)
	}
	for k, val := range fields {
		if d.present[k] {
			continue
		}
		if bytes.Equal(val, []byte("null")) || bytes.Equal(val, []byte(`""`)) {
			delete(fields, k)
			continue
		}
		if d.present != nil && bytes.Equal(val, []byte("0")) {
			delete(fields, k)
		}
	}
	for k, val := range d.extra {
		if _, clash := fields[k]; !clash {
			fields[k] = val
		}
	}
	return json.Marshal(fields)
}

// Extra returns the raw value of a key this package does not model.
func (d document) Extra(key string) (json.RawMessage, bool) {
	v, ok := d.extra[key]
	return v, ok
}
