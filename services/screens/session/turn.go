// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// RunTurn drives one turn from Ready to Terminal or Failed.
//
// # Description
//
// The source runs in its own goroutine and hands steps over an unbuffered
// channel; the Controller consumes them one at a time, so every
// tool_call/patch pair is emitted before the next step is read. When the
// Controller stops (finalize or budget) the source's context is cancelled and
// whatever it was doing is discarded. A source error fails the turn; already
// emitted patches stay valid history.
//
// # Inputs
//
//   - ctx: Cancelled when the client goes away. No further events are
//     emitted after that, and no error event is attempted.
//   - c: A Controller in the Ready state.
//   - src: Produces the turn's steps.
//
// # Outputs
//
//   - *datatypes.FinalEvent: The emitted final payload on success.
//   - error: ErrUpstream, ErrFinalValidation, an emit failure, or ctx.Err().
//     The matching error event has already been emitted when possible.
//
// # Examples
//
//	ctrl := session.NewController(start, sse, session.WithStepBudget(25))
//	final, err := session.RunTurn(ctx, ctrl, agent)
func RunTurn(ctx context.Context, c *Controller, src Source) (*datatypes.FinalEvent, error) {
	ctx, span := tracer.Start(ctx, "session.RunTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", c.ID()))

	if err := c.Start(ctx); err != nil {
		span.RecordError(err)
		return nil, err
	}

	sourceCtx, stopSource := context.WithCancel(ctx)
	defer stopSource()
	g, gctx := errgroup.WithContext(sourceCtx)
	steps := make(chan Step)

	g.Go(func() error {
		defer close(steps)
		err := src.Run(gctx, steps)
		if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil && sourceCtx.Err() != nil {
			// The Controller stopped the source; not a failure.
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer stopSource()
		_, err := c.Consume(gctx, steps)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.Canceled) {
			// gctx was cancelled because the source failed; g.Wait reports
			// the source's error.
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "turn failed")
		return nil, c.Fail(ctx, err)
	}
	if ctx.Err() != nil {
		return nil, c.Fail(ctx, ctx.Err())
	}

	final, err := c.Finalize(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("session.finish_reason", final.FinishReason),
		attribute.Int("session.operations", final.Operations),
	)
	return final, nil
}
