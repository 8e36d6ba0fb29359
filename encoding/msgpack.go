// Package encoding is the single place where bus payloads are serialized.
// Every msgpack call in the module goes through Marshal and Unmarshal so all
// peers agree on the byte layout.
//
// Map keys are sorted on encode only for map[string]string, map[string]bool
// and map[string]interface{}. Maps keyed by named types keep Go's iteration
// order, so equal values are not guaranteed to produce equal bytes. Anything
// that hashes a payload must build its own canonical form.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes v to msgpack, sorting the keys of plain string maps.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data into v. Strings decode as Go strings when the
// target is interface{}.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
