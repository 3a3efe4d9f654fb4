package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/alm-export/pkg/export"
	"github.com/Sternrassler/alm-export/pkg/mapping"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for the paging pipeline.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "almexport_pages_total",
		Help: "Total pages processed by result (ok, failed)",
	}, []string{"result"})

	rowsMappedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "almexport_rows_mapped_total",
		Help: "Total test records mapped into rows",
	})

	exportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "almexport_export_duration_seconds",
		Help:    "Duration of a full paginated fetch in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
)

// MaxPageSize is the largest page-size the ALM server accepts.
const MaxPageSize = 100

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the number of pages fetched in parallel
	MaxConcurrency int
	// PageSize is the number of records per page (1..MaxPageSize)
	PageSize int
}

// DefaultConfig returns the default configuration: 5 workers, 100 records per page.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 5,
		PageSize:       MaxPageSize,
	}
}

// PageSource is implemented by the ALM client for single-page retrieval.
type PageSource interface {
	// GetPage returns the raw JSON body of one page ordered by id.
	GetPage(ctx context.Context, startIndex, pageSize int) ([]byte, error)
}

// ProgressReporter receives progress after each page task resolves.
type ProgressReporter interface {
	Advance(ctx context.Context, n int)
}

// PageResult represents the outcome of fetching a single page.
// Failed distinguishes a dropped page from an empty successful one.
type PageResult struct {
	StartIndex int
	Rows       []mapping.MappedRow
	Failed     bool
	Err        error
}

// StartIndices returns 1, 1+P, 1+2P, ... for every index below total.
func StartIndices(total, pageSize int) []int {
	if total <= 0 || pageSize <= 0 {
		return nil
	}
	indices := make([]int, 0, total/pageSize+1)
	for i := 1; i < total; i += pageSize {
		indices = append(indices, i)
	}
	return indices
}

// FetchPage fetches one page, decodes its entities and maps every record.
// Any transport, status or decode error yields a failed result.
func FetchPage(ctx context.Context, src PageSource, m mapping.FieldMapping, startIndex, pageSize int) PageResult {
	body, err := src.GetPage(ctx, startIndex, pageSize)
	if err != nil {
		return PageResult{StartIndex: startIndex, Failed: true, Err: err}
	}

	records, err := mapping.ParseEntities(body)
	if err != nil {
		return PageResult{StartIndex: startIndex, Failed: true, Err: err}
	}

	return PageResult{
		StartIndex: startIndex,
		Rows:       mapping.MapRecords(records, m),
	}
}

// BatchFetcher handles parallel fetching of all pages
type BatchFetcher struct {
	source   PageSource
	config   Config
	progress ProgressReporter
}

// NewBatchFetcher creates a new batch fetcher
func NewBatchFetcher(source PageSource, config Config) *BatchFetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 5
	}
	if config.PageSize <= 0 || config.PageSize > MaxPageSize {
		config.PageSize = MaxPageSize
	}

	return &BatchFetcher{
		source: source,
		config: config,
	}
}

// WithProgress sets the reporter notified after each page.
func (bf *BatchFetcher) WithProgress(p ProgressReporter) *BatchFetcher {
	bf.progress = p
	return bf
}

// Config returns the effective configuration after defaults and clamping.
func (bf *BatchFetcher) Config() Config {
	return bf.config
}

type task struct {
	startIndex int
	result     chan PageResult
}

// FetchAll fetches every page of a collection of total records. The returned
// slice is in ascending start-index order regardless of completion order.
// Failed pages are included with Failed set and no rows.
func (bf *BatchFetcher) FetchAll(ctx context.Context, m mapping.FieldMapping, total int) []PageResult {
	start := time.Now()
	indices := StartIndices(total, bf.config.PageSize)

	log.Info().
		Int("total_count", total).
		Int("pages", len(indices)).
		Int("page_size", bf.config.PageSize).
		Int("workers", bf.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	tasks := make([]task, len(indices))
	queue := make(chan int, len(indices))
	for i, idx := range indices {
		tasks[i] = task{startIndex: idx, result: make(chan PageResult, 1)}
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	workers := bf.config.MaxConcurrency
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go bf.worker(ctx, m, tasks, queue, &wg, i)
	}

	results := make([]PageResult, 0, len(tasks))
	rows := 0
	failed := 0
	for _, t := range tasks {
		res := <-t.result

		if res.Failed {
			failed++
			pagesTotal.WithLabelValues("failed").Inc()
			log.Warn().
				Err(res.Err).
				Int("start_index", res.StartIndex).
				Msg("Page fetch failed, page dropped")
		} else {
			rows += len(res.Rows)
			pagesTotal.WithLabelValues("ok").Inc()
			rowsMappedTotal.Add(float64(len(res.Rows)))
		}

		if bf.progress != nil {
			bf.progress.Advance(ctx, bf.config.PageSize)
		}
		results = append(results, res)
	}

	wg.Wait()

	duration := time.Since(start)
	exportDuration.Observe(duration.Seconds())

	log.Info().
		Int("pages", len(results)).
		Int("failed_pages", failed).
		Int("rows", rows).
		Dur("duration", duration).
		Msg("Fetch complete")

	return results
}

// Run fetches every page and assembles the export table.
func (bf *BatchFetcher) Run(ctx context.Context, m mapping.FieldMapping, total int) export.Table {
	results := bf.FetchAll(ctx, m, total)

	pages := make([][]mapping.MappedRow, len(results))
	for i, res := range results {
		if !res.Failed {
			pages[i] = res.Rows
		}
	}
	return export.Assemble(m, pages)
}

// worker processes tasks from the queue. Every task it takes is resolved,
// including on panic or cancellation.
func (bf *BatchFetcher) worker(ctx context.Context, m mapping.FieldMapping, tasks []task, queue <-chan int, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for i := range queue {
		t := tasks[i]
		t.result <- bf.runTask(ctx, m, t.startIndex)
		pagesProcessed++
	}

	log.Debug().
		Int("worker_id", workerID).
		Int("pages_processed", pagesProcessed).
		Msg("Worker completed")
}

func (bf *BatchFetcher) runTask(ctx context.Context, m mapping.FieldMapping, startIndex int) (res PageResult) {
	defer func() {
		if r := recover(); r != nil {
			res = PageResult{
				StartIndex: startIndex,
				Failed:     true,
				Err:        fmt.Errorf("page task panicked: %v", r),
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return PageResult{StartIndex: startIndex, Failed: true, Err: err}
	}
	return FetchPage(ctx, bf.source, m, startIndex, bf.config.PageSize)
}
