package upload

import (
	"context"
	"fmt"
	"sort"

	"github.com/mediakit-io/go-mediaproxy/mediaapi/chunkuploader"
)

// DefaultConcurrency is the number of uploads a Batch runs at once.
const DefaultConcurrency = 2

// Item is one source of a batch.
type Item struct {
	Source   chunkuploader.Source
	Filename string
	Folder   string
}

// Result is the outcome of one batch item, in the order the items were given.
type Result struct {
	Index    int
	Filename string
	Outcome  chunkuploader.Outcome
	Err      error
}

// BatchProgressFunc receives the progress of the item at index. It may be
// called from several goroutines at once.
type BatchProgressFunc func(index int, percent int)

// Batch runs independent resumable uploads with bounded fan-out. Each upload
// keeps its own session and sends its chunks in order.
type Batch struct {
	resumable   *Resumable
	concurrency int
}

// NewBatch ...
func NewBatch(resumable *Resumable, concurrency int) *Batch {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Batch{resumable: resumable, concurrency: concurrency}
}

// Upload runs every item and returns all results. A failed item does not stop
// the others; cancelling ctx stops each running upload between its chunks and
// keeps queued ones from starting.
func (b *Batch) Upload(ctx context.Context, items []Item, progress BatchProgressFunc) []Result {
	if len(items) == 0 {
		return []Result{}
	}

	resultChan := make(chan Result, len(items))
	semaphore := make(chan struct{}, b.concurrency)

	for i, item := range items {
		go func(index int, item Item) {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				err = fmt.Errorf("upload of %s not started: %w", item.Filename, err)
				resultChan <- Result{Index: index, Filename: item.Filename, Outcome: chunkuploader.Failed(err), Err: err}
				return
			}

			var itemProgress chunkuploader.ProgressFunc
			if progress != nil {
				itemProgress = func(percent int) { progress(index, percent) }
			}

			outcome, err := b.resumable.Upload(ctx, item.Source, item.Filename, item.Folder, itemProgress)
			resultChan <- Result{Index: index, Filename: item.Filename, Outcome: outcome, Err: err}
		}(i, item)
	}

	results := make([]Result, 0, len(items))
	for len(results) < len(items) {
		results = append(results, <-resultChan)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	return results
}

// Failed returns the results that did not complete.
func Failed(results []Result) []Result {
	var failed []Result
	for _, result := range results {
		if result.Outcome.State != chunkuploader.StateCompleted {
			failed = append(failed, result)
		}
	}
	return failed
}
