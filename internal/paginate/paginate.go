// Package paginate walks REST listing endpoints page by page.
package paginate

import "context"

// Page fetches page n (1-based) and reports whether more pages follow.
type Page[T any] func(ctx context.Context, n int) (items []T, more bool, err error)

// All accumulates every item the endpoint will list, requesting each page
// exactly once. On error it returns the items collected so far together with
// the error, so callers can choose between degrading to partial results and
// aborting.
func All[T any](ctx context.Context, fetch Page[T]) ([]T, error) {
	var out []T
	for n := 1; ; n++ {
		items, more, err := fetch(ctx, n)
		out = append(out, items...)
		if err != nil {
			return out, err
		}
		if !more {
			return out, nil
		}
	}
}
