package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
)

// Slice, et al., taken from:
// https://betterprogramming.pub/writing-a-stream-api-in-go-afbc3c4350e2

func Slice[T any](ctx context.Context, in []T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for _, element := range in {
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
	}()
	return out
}

// NDJSON decodes a stream of JSON values. Values that fail to decode into T
// are logged and skipped; malformed JSON ends the stream.
func NDJSON[T any](ctx context.Context, in io.Reader) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		dec := json.NewDecoder(in)
		for {
			var element T
			if err := dec.Decode(&element); err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				var syntaxErr *json.SyntaxError
				if errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF) {
					slog.Error("NDJSON stream ended on malformed input", "error", err)
					return
				}
				slog.Warn("NDJSON skipping value", "error", err)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- element:
			}
		}
	}()
	return out
}

func Filter[T any](ctx context.Context, predicate func(T) bool, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for element := range in {
			if predicate(element) {
				select {
				case <-ctx.Done():
					return
				case out <- element:
				}
			}
		}
	}()
	return out
}

func Transform[I any, O any](ctx context.Context, transformer func(I) O, in <-chan I) <-chan O {
	out := make(chan O)
	go func() {
		defer close(out)
		for element := range in {
			select {
			case <-ctx.Done():
				return
			case out <- transformer(element):
			}
		}
	}()
	return out
}

// Batch groups elements into slices of up to size.
// The last batch may be short.
func Batch[T any](ctx context.Context, size int, in <-chan T) <-chan []T {
	out := make(chan []T)
	go func() {
		defer close(out)
		batch := make([]T, 0, size)
		for element := range in {
			batch = append(batch, element)
			if len(batch) < size {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
			batch = make([]T, 0, size)
		}
		if len(batch) > 0 {
			select {
			case <-ctx.Done():
			case out <- batch:
			}
		}
	}()
	return out
}

func Collect[T any](ctx context.Context, in <-chan T) []T {
	out := make([]T, 0)
	for element := range in {
		select {
		case <-ctx.Done():
			return out
		default:
			out = append(out, element)
		}
	}
	return out
}
