package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BatchRunner executes a columnar batch. *Rule implements it.
type BatchRunner interface {
	ExecuteBatch(ctx context.Context, batch Batch) (*Execution, error)
}

// RequestValidator is implemented by runners with a derived request schema,
// such as *Rule. The scheduler checks the whole request against it before
// splitting.
type RequestValidator interface {
	RequestSchema() *RequestSchema
}

// ScheduleOptions configures a scheduled run.
type ScheduleOptions struct {
	// ChunkSize is the number of records per batch. Zero runs everything as one batch.
	ChunkSize int

	// MaxParallel caps the number of concurrent batches for this run.
	MaxParallel int

	// FailFast stops dispatching chunks after the first failure.
	FailFast bool

	// Timeout bounds each chunk. Zero means no per-chunk timeout.
	Timeout time.Duration
}

// ChunkResult is the outcome of one chunk of a scheduled run.
type ChunkResult struct {
	// Index is the chunk position in the run.
	Index int

	// Offset is the position of the chunk's first record in the input.
	Offset int

	// Outcomes holds one outcome per record of the chunk, nil when it failed.
	Outcomes []Outcome

	// Err is the chunk failure.
	Err error

	// Duration is how long the chunk took.
	Duration time.Duration
}

// RunSummary aggregates the chunk results of a scheduled run.
type RunSummary struct {
	ID        string        `json:"id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// BatchScheduler splits large requests into chunks and runs them on a
// worker pool. Results keep the input order.
type BatchScheduler struct {
	// maxParallel is the maximum number of concurrent workers
	maxParallel int

	logger zerolog.Logger
}

// NewBatchScheduler creates a scheduler with at most maxParallel workers.
func NewBatchScheduler(maxParallel int, logger zerolog.Logger) *BatchScheduler {
	if maxParallel <= 0 {
		maxParallel = 10 // Default to 10 concurrent workers
	}
	return &BatchScheduler{
		maxParallel: maxParallel,
		logger:      logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run executes records in chunks and returns the outcomes in input order.
// The request is validated as a whole: a field present in any record is a
// column of every chunk. Rows of failed or skipped chunks have no outcome;
// the first chunk error is returned alongside the partial results.
func (s *BatchScheduler) Run(
	ctx context.Context,
	runner BatchRunner,
	records []Record,
	opts ScheduleOptions,
) ([]Outcome, RunSummary, error) {
	start := time.Now()
	batch := BatchFromRecords(records)
	summary := RunSummary{ID: uuid.New().String()}

	if v, ok := runner.(RequestValidator); ok {
		if _, err := v.RequestSchema().Validate(batch); err != nil {
			summary.Duration = time.Since(start)
			s.logger.Debug().Err(err).Str("run_id", summary.ID).Msg("run rejected")
			return nil, summary, NewValidationError("error validating request", err).WithCode(ErrCodeMissingInput)
		}
	}

	chunks := splitBatch(batch, opts.ChunkSize)
	summary.Total = len(chunks)

	s.logger.Debug().
		Str("run_id", summary.ID).
		Int("records", len(records)).
		Int("chunks", len(chunks)).
		Msg("run started")

	results := s.runChunks(ctx, runner, chunks, opts)

	outcomes := make([]Outcome, batch.Rows)
	var firstErr error
	for _, res := range results {
		switch {
		case res == nil:
			summary.Skipped++
		case res.Err != nil:
			summary.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("chunk %d failed: %w", res.Index, res.Err)
			}
		default:
			summary.Succeeded++
			copy(outcomes[res.Offset:], res.Outcomes)
		}
	}
	summary.Duration = time.Since(start)

	event := s.logger.Info()
	if firstErr != nil {
		event = s.logger.Error().Err(firstErr)
	}
	event.
		Str("run_id", summary.ID).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("run completed")

	if firstErr == nil {
		if err := ctx.Err(); err != nil && summary.Skipped > 0 {
			firstErr = NewExecutionError("run cancelled", err).WithCode(ErrCodeCanceled)
		}
	}
	return outcomes, summary, firstErr
}

type chunk struct {
	index  int
	offset int
	batch  Batch
}

// splitBatch slices every column of batch into chunks of size rows.
func splitBatch(batch Batch, size int) []chunk {
	if size <= 0 || size >= batch.Rows {
		return []chunk{{index: 0, offset: 0, batch: batch}}
	}
	chunks := make([]chunk, 0, (batch.Rows+size-1)/size)
	for offset := 0; offset < batch.Rows; offset += size {
		end := min(offset+size, batch.Rows)
		part := Batch{Rows: end - offset, Columns: make(map[string]Column, len(batch.Columns))}
		for name, col := range batch.Columns {
			part.Columns[name] = col[offset:end:end]
		}
		chunks = append(chunks, chunk{index: len(chunks), offset: offset, batch: part})
	}
	return chunks
}

// runChunks executes all chunks using a worker pool. Skipped chunks leave a
// nil result.
func (s *BatchScheduler) runChunks(
	ctx context.Context,
	runner BatchRunner,
	chunks []chunk,
	opts ScheduleOptions,
) []*ChunkResult {
	// Determine worker count (min of maxParallel and number of chunks)
	workerCount := s.maxParallel
	if opts.MaxParallel > 0 && opts.MaxParallel < workerCount {
		workerCount = opts.MaxParallel
	}
	if len(chunks) < workerCount {
		workerCount = len(chunks)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Create work queue
	workQueue := make(chan chunk, len(chunks))
	for _, c := range chunks {
		workQueue <- c
	}
	close(workQueue)

	results := make([]*ChunkResult, len(chunks))
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for c := range workQueue {
				// Check for cancellation
				select {
				case <-ctx.Done():
					return
				default:
				}

				res := s.runChunk(ctx, runner, c, opts)
				results[c.index] = res
				if res.Err != nil && opts.FailFast {
					cancel()
				}
			}
		}()
	}

	wg.Wait()
	return results
}

func (s *BatchScheduler) runChunk(ctx context.Context, runner BatchRunner, c chunk, opts ScheduleOptions) *ChunkResult {
	startTime := time.Now()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	res := &ChunkResult{Index: c.index, Offset: c.offset}
	exec, err := runner.ExecuteBatch(ctx, c.batch)
	res.Duration = time.Since(startTime)
	if err != nil {
		res.Err = err
		s.logger.Debug().Err(err).Int("chunk", c.index).Msg("chunk failed")
		return res
	}
	res.Outcomes = exec.Result()
	return res
}
