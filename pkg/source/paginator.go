package source

import (
	"context"

	"go.uber.org/zap"

	"github.com/tidemark-io/tidemark/pkg/clients"
	"github.com/tidemark-io/tidemark/pkg/errors"
)

// PageFunc fetches one page. An empty token requests the first page;
// subsequent calls receive the previous page's NextToken.
type PageFunc func(ctx context.Context, token string) (*RawPage, error)

// Refresher is the slice of the auth capability the paginator needs.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Paginator drives the page loop shared by all vendor clients: rate
// limiting, throttle backoff, transient retries, the one-shot auth refresh,
// and the runaway-pagination guard. Retry budgets cover the whole request,
// not individual pages.
type Paginator struct {
	MaxPages          int
	ThrottleAttempts  int
	TransientAttempts int
	Backoff           Backoff

	// Limiter is optional client-side rate limiting across workers
	Limiter clients.RateLimiter
	// Auth receives at most one Refresh per request on vendor auth expiry
	Auth Refresher

	Logger *zap.Logger
}

// Run fetches every page for one request. Cancellation is honored before
// each page call and during each backoff sleep.
func (p *Paginator) Run(ctx context.Context, fetch PageFunc) (*FetchOutput, error) {
	out := &FetchOutput{}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var (
		token            string
		throttleRetries  int
		transientRetries int
		refreshed        bool
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "cancelled before page fetch").
				WithDetail("pages_fetched", out.PagesFetched)
		}

		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeCancelled, "cancelled waiting for rate limit")
			}
		}

		page, err := fetch(ctx, token)
		if err != nil {
			switch errors.TypeOf(err) {
			case errors.ErrorTypeRateLimited:
				if throttleRetries >= p.ThrottleAttempts {
					return nil, errors.Wrap(err, errors.ErrorTypeRateLimitExhausted,
						"throttle retries exhausted").
						WithDetail("attempts", throttleRetries)
				}
				log.Warn("vendor throttled, backing off",
					zap.Int("retry", throttleRetries+1),
					zap.Duration("delay", p.Backoff.Delay(throttleRetries)))
				if serr := p.Backoff.Sleep(ctx, throttleRetries); serr != nil {
					return nil, serr
				}
				throttleRetries++
				continue

			case errors.ErrorTypeTransient, errors.ErrorTypeConnection:
				if transientRetries >= p.TransientAttempts {
					return nil, errors.Wrap(err, errors.ErrorTypeTransient,
						"transient retries exhausted").
						WithDetail("attempts", transientRetries)
				}
				log.Warn("transient failure, retrying",
					zap.Int("retry", transientRetries+1),
					zap.Error(err))
				if serr := p.Backoff.Sleep(ctx, transientRetries); serr != nil {
					return nil, serr
				}
				transientRetries++
				continue

			case errors.ErrorTypeAuthExpired:
				if refreshed || p.Auth == nil {
					return nil, errors.Wrap(err, errors.ErrorTypeRequestRejected,
						"authentication rejected after refresh")
				}
				log.Info("auth capability expired, refreshing once")
				if rerr := p.Auth.Refresh(ctx); rerr != nil {
					return nil, errors.Wrap(rerr, errors.ErrorTypeRequestRejected,
						"auth refresh failed")
				}
				refreshed = true
				continue

			default:
				return nil, err
			}
		}

		out.Pages = append(out.Pages, page)
		out.PagesFetched++

		if page.NextToken == "" {
			break
		}
		if out.PagesFetched >= p.MaxPages {
			return nil, errors.Newf(errors.ErrorTypePaginationLimitExceeded,
				"pagination did not terminate within %d pages", p.MaxPages).
				WithDetail("last_token", page.NextToken)
		}
		token = page.NextToken
	}

	out.RetriesUsed = throttleRetries + transientRetries
	return out, nil
}
