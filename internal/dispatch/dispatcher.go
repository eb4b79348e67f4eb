// Package dispatch routes canonical requests to a backend, drives the
// account retry loop and hands back a committed canonical stream.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/lunaroute/polyclaude-proxy/internal/account"
	"github.com/lunaroute/polyclaude-proxy/internal/account/store"
	"github.com/lunaroute/polyclaude-proxy/internal/backends"
	"github.com/lunaroute/polyclaude-proxy/internal/config"
	"github.com/lunaroute/polyclaude-proxy/internal/proxyerr"
	"github.com/lunaroute/polyclaude-proxy/internal/utils"
	"github.com/lunaroute/polyclaude-proxy/pkg/anthropic"
)

// Dispatcher owns the per-request orchestration: model routing, account
// selection, attempt budget and error-driven rotation.
type Dispatcher struct {
	manager  *account.Manager
	registry *backends.Registry
}

// New creates a dispatcher.
func New(manager *account.Manager, registry *backends.Registry) *Dispatcher {
	return &Dispatcher{manager: manager, registry: registry}
}

// Dispatch runs a request to completion of the attempt loop and returns a
// committed stream: its first canonical event has already been produced,
// so no retryable failure can follow, only mid-stream aborts.
func (d *Dispatcher) Dispatch(ctx context.Context, req *anthropic.MessagesRequest) (*backends.Stream, error) {
	backend, ok := config.BackendForModel(req.Model)
	if !ok {
		return nil, proxyerr.Newf(proxyerr.KindContractViolation, "unknown model: %s", req.Model)
	}

	adapter := d.registry.Get(backend)
	if adapter == nil {
		return nil, proxyerr.Newf(proxyerr.KindConfigMissing, "backend %s is not configured", backend)
	}
	pool := d.manager.Pool(backend)

	maxAttempts := pool.Size() + 1
	if maxAttempts < config.MinRetryAttempts {
		maxAttempts = config.MinRetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		acct, err := pool.Select(req.Model)
		if err != nil {
			perr, _ := proxyerr.As(err)
			if perr != nil && perr.Kind == proxyerr.KindUnavailable && perr.RetryAfterMs > 0 {
				if perr.RetryAfterMs > config.MaxWaitBeforeErrorMs {
					// Fail fast instead of holding the client for minutes.
					return nil, err
				}
				utils.Info("[dispatch] pool cooling, waiting %s before reselect",
					utils.FormatDuration(perr.RetryAfterMs))
				if sleepErr := sleepCtx(ctx, perr.RetryAfterMs+config.WaitRetryPaddingMs); sleepErr != nil {
					return nil, proxyerr.Wrap(proxyerr.KindTransport, "request canceled while waiting", sleepErr)
				}
				attempt-- // waiting does not consume the budget
				continue
			}
			return nil, err
		}

		token, err := pool.Token(ctx, acct)
		if err != nil {
			// An unauthorized refresh already latched the account.
			lastErr = err
			utils.Warn("[dispatch] token for %s unavailable: %v", acct.DisplayName(), err)
			continue
		}

		stream, err := adapter.Execute(ctx, acct, token, req)
		if err != nil {
			lastErr = err
			if !d.handleAttemptError(pool, acct, err) {
				return nil, err
			}
			continue
		}

		committed, err := d.commit(pool, acct, stream)
		if err != nil {
			lastErr = err
			if !d.handleAttemptError(pool, acct, err) {
				return nil, err
			}
			continue
		}
		return committed, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, proxyerr.Newf(proxyerr.KindUnavailable, "request failed after %d attempts", maxAttempts)
}

// handleAttemptError applies an attempt failure to the account and reports
// whether the loop should rotate to another account.
func (d *Dispatcher) handleAttemptError(pool *account.Pool, acct *store.Account, err error) bool {
	perr, ok := proxyerr.As(err)
	if !ok {
		pool.RecordFailure(acct)
		return true
	}
	switch perr.Kind {
	case proxyerr.KindUnauthorized:
		pool.MarkInvalid(acct, fmt.Sprintf("upstream rejected credentials (%d)", perr.StatusCode))
		return true
	case proxyerr.KindRateLimited:
		pool.MarkRateLimited(acct, perr.RetryAfterMs)
		return true
	case proxyerr.KindTransport, proxyerr.KindUpstream, proxyerr.KindStreamEmpty:
		pool.RecordFailure(acct)
		return true
	default:
		// Contract violations and the like repeat on every account.
		return false
	}
}

// commit waits for the adapter's first event. A stream that dies before
// producing anything is an attempt failure and stays retryable; once an
// event exists the stream is returned with the remainder piped through,
// and the account's outcome is recorded when it ends.
func (d *Dispatcher) commit(pool *account.Pool, acct *store.Account, in *backends.Stream) (*backends.Stream, error) {
	first, ok := <-in.Events()
	if !ok {
		err := in.Err()
		if err == nil {
			err = proxyerr.New(proxyerr.KindStreamEmpty, "upstream produced no events")
		}
		return nil, err
	}

	out := backends.NewStream()
	go func() {
		out.Send(first)
		for ev := range in.Events() {
			out.Send(ev)
		}
		if err := in.Err(); err != nil {
			pool.RecordFailure(acct)
			out.CloseWithError(err)
			return
		}
		pool.RecordSuccess(acct)
		out.CloseWithError(nil)
	}()
	return out, nil
}

func sleepCtx(ctx context.Context, ms int64) error {
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
