package generate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunBatch runs independent requests concurrently, at most limit at a time
// (limit <= 0 means all at once). One failure does not stop the others;
// results keep request order and the returned error joins every failure.
func (r *Runner) RunBatch(ctx context.Context, reqs []Request, limit int) ([]Result, error) {
	results := make([]Result, len(reqs))
	errs := make([]error, len(reqs))

	var eg errgroup.Group
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for i, req := range reqs {
		eg.Go(func() error {
			res, err := r.Run(ctx, req)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("request %d: %w", i, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results, errors.Join(errs...)
}
