package search

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/jira-search-client/pkg/pagination"
)

// Envelope keys shared by every resource kind.
const (
	keyStartAt       = "startAt"
	keyTotal         = "total"
	keyIsLast        = "isLast"
	keyNextPageToken = "nextPageToken"
)

// ItemDecoder turns one raw array element into a T.
type ItemDecoder[T any] func(raw json.RawMessage) (T, error)

// JSONItem returns an ItemDecoder that unmarshals elements with encoding/json.
func JSONItem[T any]() ItemDecoder[T] {
	return func(raw json.RawMessage) (T, error) {
		var item T
		err := json.Unmarshal(raw, &item)
		return item, err
	}
}

// Decode parses one response body into a Page.
//
// Legacy envelopes must carry startAt, total and the item array; IsLast is
// derived as startAt+len(items) >= total. Next envelopes must carry isLast and
// the item array; the token is dropped when isLast is true. Unknown keys are
// ignored. If any item fails to decode the whole page fails.
//
// The returned DecodeError has Page set to zero; callers that know the page
// number fill it in.
func Decode[T any](data []byte, v Version, itemsKey string, decodeItem ItemDecoder[T]) (pagination.Page[T], error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return pagination.Page[T]{}, envelopeError(v, "response is not a JSON object", err)
	}
	if env == nil {
		return pagination.Page[T]{}, envelopeError(v, "response is null", nil)
	}

	switch v {
	case VersionLegacy:
		return decodeLegacy(env, itemsKey, decodeItem)
	case VersionNext:
		return decodeNext(env, itemsKey, decodeItem)
	default:
		return pagination.Page[T]{}, envelopeError(v, fmt.Sprintf("cannot decode for version %q", v), nil)
	}
}

func decodeLegacy[T any](env map[string]json.RawMessage, itemsKey string, decodeItem ItemDecoder[T]) (pagination.Page[T], error) {
	_, hasStart := env[keyStartAt]
	_, hasTotal := env[keyTotal]
	if !hasStart || !hasTotal {
		if looksNext(env) {
			return pagination.Page[T]{}, mismatchError(VersionLegacy, "response carries isLast/nextPageToken instead of startAt/total")
		}
		return pagination.Page[T]{}, envelopeError(VersionLegacy, "missing startAt or total", nil)
	}

	for _, key := range []string{keyStartAt, keyTotal} {
		if isNull(env[key]) {
			return pagination.Page[T]{}, envelopeError(VersionLegacy, key+" is null", nil)
		}
	}

	var startAt, total int
	if err := json.Unmarshal(env[keyStartAt], &startAt); err != nil {
		return pagination.Page[T]{}, envelopeError(VersionLegacy, "startAt is not an integer", err)
	}
	if err := json.Unmarshal(env[keyTotal], &total); err != nil {
		return pagination.Page[T]{}, envelopeError(VersionLegacy, "total is not an integer", err)
	}
	if startAt < 0 || total < 0 {
		return pagination.Page[T]{}, envelopeError(VersionLegacy, fmt.Sprintf("negative startAt %d or total %d", startAt, total), nil)
	}

	items, err := decodeItems(env, VersionLegacy, itemsKey, decodeItem)
	if err != nil {
		return pagination.Page[T]{}, err
	}

	return pagination.Page[T]{
		Items:        items,
		Total:        total,
		HasTotal:     true,
		IsLast:       startAt+len(items) >= total,
		Continuation: pagination.ContinuationOffset,
		StartAt:      startAt,
	}, nil
}

func decodeNext[T any](env map[string]json.RawMessage, itemsKey string, decodeItem ItemDecoder[T]) (pagination.Page[T], error) {
	rawLast, ok := env[keyIsLast]
	if !ok {
		if looksLegacy(env) {
			return pagination.Page[T]{}, mismatchError(VersionNext, "response carries startAt/total instead of isLast")
		}
		return pagination.Page[T]{}, envelopeError(VersionNext, "missing isLast", nil)
	}

	if isNull(rawLast) {
		return pagination.Page[T]{}, envelopeError(VersionNext, "isLast is null", nil)
	}

	var isLast bool
	if err := json.Unmarshal(rawLast, &isLast); err != nil {
		return pagination.Page[T]{}, envelopeError(VersionNext, "isLast is not a boolean", err)
	}

	var token *string
	if raw, ok := env[keyNextPageToken]; ok {
		if err := json.Unmarshal(raw, &token); err != nil {
			return pagination.Page[T]{}, envelopeError(VersionNext, "nextPageToken is not a string", err)
		}
	}

	items, err := decodeItems(env, VersionNext, itemsKey, decodeItem)
	if err != nil {
		return pagination.Page[T]{}, err
	}

	page := pagination.Page[T]{
		Items:        items,
		IsLast:       isLast,
		Continuation: pagination.ContinuationToken,
	}
	if !isLast && token != nil {
		page.NextToken = *token
	}
	return page, nil
}

func decodeItems[T any](env map[string]json.RawMessage, v Version, itemsKey string, decodeItem ItemDecoder[T]) ([]T, error) {
	raw, ok := env[itemsKey]
	if !ok {
		return nil, envelopeError(v, fmt.Sprintf("missing item array %q", itemsKey), nil)
	}
	if isNull(raw) {
		return nil, envelopeError(v, fmt.Sprintf("item array %q is null", itemsKey), nil)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, envelopeError(v, fmt.Sprintf("%q is not an array", itemsKey), err)
	}

	items := make([]T, 0, len(elems))
	for i, elem := range elems {
		item, err := decodeItem(elem)
		if err != nil {
			return nil, &DecodeError{Version: v, Item: i, Message: "item does not decode", Err: err}
		}
		items = append(items, item)
	}
	return items, nil
}

// isNull reports a JSON null, which encoding/json would otherwise accept as a
// zero value.
func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func looksNext(env map[string]json.RawMessage) bool {
	_, last := env[keyIsLast]
	_, token := env[keyNextPageToken]
	return last || token
}

func looksLegacy(env map[string]json.RawMessage) bool {
	_, start := env[keyStartAt]
	_, total := env[keyTotal]
	return start || total
}

func envelopeError(v Version, msg string, err error) *DecodeError {
	return &DecodeError{Version: v, Item: -1, Message: msg, Err: err}
}

func mismatchError(v Version, msg string) *DecodeError {
	return &DecodeError{Version: v, Item: -1, Mismatch: true, Message: msg}
}
