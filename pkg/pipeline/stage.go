// Package pipeline runs the fetch, split, index and answer stages that turn
// a job posting URL into an ExtractionResult.
package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "pkg/pipeline"

// Stage is a function that transforms In to Out within a context.
type Stage[In, Out any] func(context.Context, In) (Out, error)

// Then composes two stages, short-circuiting on error.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) (C, error) {
		b, err := first(ctx, a)
		if err != nil {
			var zero C
			return zero, err
		}
		return second(ctx, b)
	}
}

// Traced wraps a stage with an OTel span that records its error.
func Traced[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) (Out, error) {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		out, err := stage(ctx, in)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}
}
