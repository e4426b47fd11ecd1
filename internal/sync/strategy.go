package sync

import (
	"context"
	"fmt"

	"github.com/veridesk/veridesk/internal/integrations/licensor"
	"github.com/veridesk/veridesk/internal/models"
)

// maxConsecutivePageFailures is the engine's backstop against a fully
// unresponsive catalog: pagination aborts after this many page fetches fail
// in a row.
const maxConsecutivePageFailures = 3

// FetchOptions bounds a fetch pass over the catalog.
type FetchOptions struct {
	BatchSize int
	MaxPages  int // 0 = unlimited
	Limit     int // total record cap, 0 = unlimited
}

func fetchOptions(opts Options) FetchOptions {
	return FetchOptions{BatchSize: opts.BatchSize, MaxPages: opts.MaxPages, Limit: opts.Limit}
}

// PageError records a failed page fetch.
type PageError struct {
	Page int
	Err  error
}

// FetchResult summarizes a fetch pass.
type FetchResult struct {
	TotalFetched int
	PageErrors   []PageError
	// Aborted is true when pagination terminated early because the catalog
	// was unreachable (consecutive page failures) rather than exhausted.
	Aborted bool
}

// batchSink receives one page of normalized records. It returns an error
// only on context cancellation.
type batchSink func(ctx context.Context, page int, records []licensor.Record) error

// FetchStrategy drives a bounded sequence of page fetches against the
// catalog and hands each batch to the sink. Run always returns a non-nil
// FetchResult, even on error.
type FetchStrategy interface {
	Mode() models.SyncMode
	Run(ctx context.Context, api CatalogAPI, opts FetchOptions, sink batchSink) (*FetchResult, error)
}

// selectStrategy picks the fetch strategy for the given options.
func selectStrategy(opts Options) FetchStrategy {
	if opts.Comprehensive {
		return &PaginatedFetchStrategy{}
	}
	return &SingleBatchFetchStrategy{}
}

// PaginatedFetchStrategy walks the full catalog page by page. A single page
// failure is recorded and the walk advances to the next page; three
// consecutive failures abort the pass.
type PaginatedFetchStrategy struct{}

// Mode returns the sync mode this strategy implements.
func (s *PaginatedFetchStrategy) Mode() models.SyncMode {
	return models.SyncModeComprehensive
}

// Run fetches pages starting from page 1 until the catalog reports no more
// records, a configured cap is reached, or the failure backstop trips.
func (s *PaginatedFetchStrategy) Run(ctx context.Context, api CatalogAPI, opts FetchOptions, sink batchSink) (*FetchResult, error) {
	result := &FetchResult{}
	consecutiveFailures := 0

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if opts.MaxPages > 0 && page > opts.MaxPages {
			return result, nil
		}
		if opts.Limit > 0 && result.TotalFetched >= opts.Limit {
			return result, nil
		}

		// The page size must stay constant across the walk: the catalog
		// addresses records by offset (page-1)*pageSize, so shrinking the
		// final request would shift the grid and re-fetch seen records.
		pageResult, err := api.FetchPage(ctx, page, opts.BatchSize)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.PageErrors = append(result.PageErrors, PageError{
				Page: page,
				Err:  fmt.Errorf("fetch page %d: %w", page, err),
			})
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutivePageFailures {
				result.Aborted = true
				return result, nil
			}
			continue
		}
		consecutiveFailures = 0

		records := pageResult.Records
		if opts.Limit > 0 {
			if remaining := opts.Limit - result.TotalFetched; len(records) > remaining {
				records = records[:remaining]
			}
		}
		if len(records) > 0 {
			result.TotalFetched += len(records)
			if err := sink(ctx, page, records); err != nil {
				return result, err
			}
		}

		if !pageResult.HasMore || len(pageResult.Records) == 0 {
			return result, nil
		}
	}
}

// SingleBatchFetchStrategy is the legacy bounded mode: one fetch of at most
// BatchSize (or Limit, when smaller) records.
type SingleBatchFetchStrategy struct{}

// Mode returns the sync mode this strategy implements.
func (s *SingleBatchFetchStrategy) Mode() models.SyncMode {
	return models.SyncModeSingleBatch
}

// Run performs the single bounded fetch. A fetch failure aborts the pass
// since there is nothing else to advance to.
func (s *SingleBatchFetchStrategy) Run(ctx context.Context, api CatalogAPI, opts FetchOptions, sink batchSink) (*FetchResult, error) {
	result := &FetchResult{}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	pageSize := opts.BatchSize
	if opts.Limit > 0 && opts.Limit < pageSize {
		pageSize = opts.Limit
	}

	pageResult, err := api.FetchPage(ctx, 1, pageSize)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, ctxErr
		}
		result.PageErrors = append(result.PageErrors, PageError{Page: 1, Err: fmt.Errorf("fetch batch: %w", err)})
		result.Aborted = true
		return result, nil
	}

	if len(pageResult.Records) > 0 {
		result.TotalFetched = len(pageResult.Records)
		if err := sink(ctx, 1, pageResult.Records); err != nil {
			return result, err
		}
	}
	return result, nil
}
