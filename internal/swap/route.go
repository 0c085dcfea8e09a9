package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// Candidate is one path to try when quoting.
type Candidate struct {
	Kind RouteKind
	Path []string
}

// Candidates returns the fixed preference order: the direct pair, then the
// path through base. The routed candidate is omitted when base is already an
// endpoint.
func Candidates(in, out, base string) []Candidate {
	c := []Candidate{{Kind: RouteDirect, Path: []string{in, out}}}
	if base != "" && !strings.EqualFold(base, in) && !strings.EqualFold(base, out) {
		c = append(c, Candidate{Kind: RouteRouted, Path: []string{in, base, out}})
	}
	return c
}

// FirstUsable quotes candidates in order and returns the first quote with a
// positive output. When every candidate fails the error wraps
// domain.ErrNoRoute together with each candidate's failure.
func FirstUsable(ctx context.Context, candidates []Candidate, quote func(context.Context, Candidate) (Quote, error)) (Quote, error) {
	var errs []error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return Quote{}, err
		}
		q, err := quote(ctx, c)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", c.Kind, strings.Join(c.Path, ">"), err))
			continue
		}
		if q.ExpectedOut == nil || q.ExpectedOut.Sign() <= 0 {
			errs = append(errs, fmt.Errorf("%s %s: zero output", c.Kind, strings.Join(c.Path, ">")))
			continue
		}
		q.Kind = c.Kind
		if q.Path == nil {
			q.Path = c.Path
		}
		return q, nil
	}
	return Quote{}, fmt.Errorf("swap: %w: %w", domain.ErrNoRoute, errors.Join(errs...))
}
