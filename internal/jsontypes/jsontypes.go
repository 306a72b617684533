// Package jsontypes supports decoding for interface types whose concrete
// implementations need to be stored as JSON. To do this, concrete values are
// packaged in wrapper objects having the form:
//
//	{
//	  "type": "<type-tag>",
//	  "value": <json-encoding-of-value>
//	}
//
// This package provides a registry for type tag strings and functions to
// encode and decode wrapper objects.
package jsontypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

// The Tagged interface must be implemented by a type in order to register it
// with the jsontypes package. The TypeTag method returns a string label that
// is used to distinguish objects of that type.
type Tagged interface {
	TypeTag() string
}

var (
	registryMtx sync.Mutex
	registry    = make(map[string]reflect.Type)
)

// Register adds v to the type registry. It reports an error if the tag
// returned by v is already registered.
func Register(v Tagged) error {
	registryMtx.Lock()
	defer registryMtx.Unlock()
	tag := v.TypeTag()
	if t, ok := registry[tag]; ok {
		return fmt.Errorf("type tag %q already registered to %v", tag, t)
	}
	typ := reflect.TypeOf(v)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	registry[tag] = typ
	return nil
}

// MustRegister adds v to the type registry. It will panic if the tag returned
// by v is already registered. This function is meant for use during program
// initialization.
func MustRegister(v Tagged) {
	if err := Register(v); err != nil {
		panic(err)
	}
}

type wrapper struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Marshal marshals a JSON wrapper object containing v. If v == nil, Marshal
// returns the JSON "null" value without error.
func Marshal(v Tagged) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapper{
		Type:  v.TypeTag(),
		Value: data,
	})
}

// Unmarshal unmarshals a JSON wrapper object into v. It reports an error if
// the data do not encode a valid wrapper object, if the wrapper's type tag is
// not registered with jsontypes, or if the resulting value is not compatible
// with the type of v.
func Unmarshal(data []byte, v interface{}) error {
	target := reflect.ValueOf(v)
	if target.Kind() != reflect.Ptr || target.IsNil() {
		return fmt.Errorf("target %T must be a non-nil pointer", v)
	}
	baseType := target.Type().Elem()

	var w wrapper
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("invalid type wrapper: %w", err)
	}

	registryMtx.Lock()
	typ, ok := registry[w.Type]
	registryMtx.Unlock()
	if !ok {
		return fmt.Errorf("unknown type tag for %T: %q", v, w.Type)
	}

	if baseType.Kind() == reflect.Interface {
		if !typ.Implements(baseType) && !reflect.PtrTo(typ).Implements(baseType) {
			return fmt.Errorf("type %v does not implement %v", typ, baseType)
		}
	} else if typ != baseType && !typ.AssignableTo(baseType) {
		return fmt.Errorf("type tag %q does not match target %v", w.Type, baseType)
	}

	obj := reflect.New(typ)
	if err := json.Unmarshal(w.Value, obj.Interface()); err != nil {
		return err
	}
	if baseType.Kind() == reflect.Interface && !typ.Implements(baseType) {
		target.Elem().Set(obj)
	} else {
		target.Elem().Set(obj.Elem())
	}
	return nil
}
