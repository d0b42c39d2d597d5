package search

import (
	"context"
	"errors"
	"net/http"
)

// ErrNoResponse is returned when an async transport closes its channel without
// delivering a response.
var ErrNoResponse = errors.New("transport closed without a response")

// Request is one page request handed to a transport.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is the outcome of an asynchronous round trip.
type Response struct {
	Body []byte
	Err  error
}

// Transport performs a round trip and blocks until it completes.
type Transport interface {
	Send(ctx context.Context, req Request) ([]byte, error)
}

// AsyncTransport starts a round trip and returns immediately. The channel
// delivers exactly one Response and may then be closed.
type AsyncTransport interface {
	SendAsync(ctx context.Context, req Request) <-chan Response
}

// Awaiter waits for one transport round trip. It is the only step that differs
// between blocking and cooperative callers; paging and decoding are shared.
type Awaiter interface {
	Await(ctx context.Context, req Request) ([]byte, error)
}

// AwaiterFunc adapts a function to Awaiter.
type AwaiterFunc func(ctx context.Context, req Request) ([]byte, error)

// Await calls f.
func (f AwaiterFunc) Await(ctx context.Context, req Request) ([]byte, error) {
	return f(ctx, req)
}

// Blocking waits by calling the transport directly on the caller's goroutine.
func Blocking(t Transport) Awaiter {
	return AwaiterFunc(t.Send)
}

// Cooperative starts the round trip and parks the caller on the response
// channel, giving up the wait if ctx is cancelled first.
func Cooperative(t AsyncTransport) Awaiter {
	return AwaiterFunc(func(ctx context.Context, req Request) ([]byte, error) {
		ch := t.SendAsync(ctx, req)
		select {
		case resp, ok := <-ch:
			if !ok {
				return nil, ErrNoResponse
			}
			return resp.Body, resp.Err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}
