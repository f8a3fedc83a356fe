package async

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/keystone/pkg/observability"
)

// SafeGo runs fn in a goroutine with a timeout and panic recovery.
// Errors and panics are logged, never propagated. Use it for work that must
// not fail the caller, such as mail delivery after a committed transaction.
//
//	async.SafeGo(ctx, logger, 30*time.Second, "invite email", func(ctx context.Context) error {
//		return mailer.SendInvite(ctx, msg)
//	})
//
// The goroutine is detached from the parent's cancellation so a finished
// HTTP request does not abort it; values such as the request id are kept.
func SafeGo(parent context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// Batch applies fn to every item with at most workers running at once and
// a per-item timeout. It returns every error encountered; a panic in fn is
// reported as an error.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			defer func() {
				if perr := observability.MustRecover(recover()); perr != nil {
					record(perr)
				}
			}()
			if err := gctx.Err(); err != nil {
				record(err)
				return nil
			}
			itemCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()
			if err := fn(itemCtx, item); err != nil {
				record(fmt.Errorf("%v: %w", item, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
