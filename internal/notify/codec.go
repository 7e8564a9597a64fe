package notify

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

var legacyMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort: cbor.SortCoreDeterministic,
		Time: cbor.TimeUnixMicro,
	}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeLegacy encodes a single notification in the compact integer-keyed
// CBOR form understood by protocol version 1 clients.
func EncodeLegacy(n Notification) ([]byte, error) {
	b, err := legacyMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notify: encode legacy: %w", err)
	}
	return b, nil
}

// DecodeLegacy reverses EncodeLegacy.
func DecodeLegacy(b []byte) (Notification, error) {
	var n Notification
	if err := cbor.Unmarshal(b, &n); err != nil {
		return n, fmt.Errorf("notify: decode legacy: %w", err)
	}
	return n, nil
}

// EncodeBatch encodes notifications as a msgpack array of maps.
func EncodeBatch(items []Notification) ([]byte, error) {
	b, err := msgpack.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("notify: encode batch: %w", err)
	}
	return b, nil
}

// DecodeBatch reverses EncodeBatch.
func DecodeBatch(b []byte) ([]Notification, error) {
	var items []Notification
	if err := msgpack.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("notify: decode batch: %w", err)
	}
	return items, nil
}
