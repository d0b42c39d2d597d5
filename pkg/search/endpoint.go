package search

import "encoding/json"

// Endpoint describes where a resource kind is searched and how its items decode.
type Endpoint[T any] interface {
	// Path returns the search path for v, relative to the base URL.
	Path(v Version) string

	// ItemsKey returns the envelope key that holds the item array under v.
	ItemsKey(v Version) string

	// DecodeItem decodes one array element.
	DecodeItem(raw json.RawMessage) (T, error)
}

// Resource is a table-driven Endpoint.
type Resource[T any] struct {
	LegacyPath     string
	NextPath       string
	LegacyItemsKey string
	NextItemsKey   string

	// Decoder defaults to JSONItem when nil.
	Decoder ItemDecoder[T]
}

// Path implements Endpoint.
func (r Resource[T]) Path(v Version) string {
	if v == VersionNext {
		return r.NextPath
	}
	return r.LegacyPath
}

// ItemsKey implements Endpoint.
func (r Resource[T]) ItemsKey(v Version) string {
	if v == VersionNext {
		return r.NextItemsKey
	}
	return r.LegacyItemsKey
}

// DecodeItem implements Endpoint.
func (r Resource[T]) DecodeItem(raw json.RawMessage) (T, error) {
	if r.Decoder == nil {
		return JSONItem[T]()(raw)
	}
	return r.Decoder(raw)
}
