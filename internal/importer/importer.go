package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"market-pulse/internal/services/pipeline"
	"market-pulse/internal/timeframe"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Runner runs one pipeline cycle and reports per-instrument progress.
type Runner interface {
	RunWithProgress(ctx context.Context, tf string, onDone func(symbol string)) (*pipeline.Result, error)
}

// Locker guards the backfill with the same lock the workers use.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) (bool, error)
}

// Importer backfills the cache and stores for a list of timeframes.
type Importer struct {
	runner      Runner
	lock        Locker
	instruments int
	out         io.Writer
	logger      *logrus.Logger
}

// ImportJob lists the timeframes of one backfill.
type ImportJob struct {
	Timeframes []string
}

func (j *ImportJob) String() string {
	return fmt.Sprintf("%d timeframes (%s)", len(j.Timeframes), strings.Join(j.Timeframes, ", "))
}

type importResult struct {
	Timeframe string
	Result    *pipeline.Result
	Error     error
}

// New creates an importer. lock may be nil when the caller already holds it.
func New(runner Runner, lock Locker, instruments int, logger *logrus.Logger) *Importer {
	return &Importer{
		runner:      runner,
		lock:        lock,
		instruments: instruments,
		out:         os.Stderr,
		logger:      logger,
	}
}

// SetOutput redirects the progress bars
func (imp *Importer) SetOutput(w io.Writer) {
	imp.out = w
}

// Import runs every timeframe of job in order. Timeframes are processed
// sequentially because each cycle already fans out across instruments.
func (imp *Importer) Import(ctx context.Context, job *ImportJob) error {
	for _, tf := range job.Timeframes {
		if _, ok := timeframe.Lookup(tf); !ok {
			return fmt.Errorf("unsupported timeframe %q", tf)
		}
	}

	if imp.lock != nil {
		if err := imp.lock.Acquire(ctx); err != nil {
			return fmt.Errorf("failed to acquire pipeline lock: %w", err)
		}
		defer func() {
			if _, err := imp.lock.Release(context.WithoutCancel(ctx)); err != nil {
				imp.logger.WithError(err).Warn("Failed to release pipeline lock")
			}
		}()
	}

	results := make([]importResult, 0, len(job.Timeframes))
	for _, tf := range job.Timeframes {
		if err := ctx.Err(); err != nil {
			return err
		}

		imp.logger.Infof("📊 Processing timeframe: %s", tf)
		bar := progressbar.NewOptions(imp.instruments,
			progressbar.OptionSetWriter(imp.out),
			progressbar.OptionSetDescription(fmt.Sprintf("Backfilling %s", tf)),
			progressbar.OptionSetWidth(50),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)

		result, err := imp.runner.RunWithProgress(ctx, tf, func(string) {
			bar.Add(1)
		})
		bar.Finish()
		results = append(results, importResult{Timeframe: tf, Result: result, Error: err})

		if err != nil {
			imp.logger.Warnf("  ❌ %s: %v", tf, err)
			continue
		}
		imp.logger.Infof("  ✅ %s: %d instruments, %d records in %s",
			tf, len(result.Structure.Data), result.Structure.RecordCount(), result.Duration)
		if result.Derived != nil {
			imp.logger.Infof("  ✅ %s: derived %d records", result.Derived.Timeframe, result.Derived.RecordCount())
		}
	}

	return imp.summarize(results)
}

func (imp *Importer) summarize(results []importResult) error {
	failCount := 0
	records := 0
	for _, r := range results {
		if r.Error != nil {
			failCount++
			continue
		}
		records += r.Result.Structure.RecordCount()
		if r.Result.Derived != nil {
			records += r.Result.Derived.RecordCount()
		}
	}

	imp.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	imp.logger.Info("📈 Backfill Summary")
	imp.logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	imp.logger.Infof("Timeframes:     %d", len(results))
	imp.logger.Infof("✅ Successful:  %d", len(results)-failCount)
	imp.logger.Infof("❌ Failed:      %d", failCount)
	imp.logger.Infof("Records:        %d", records)

	if failCount > 0 {
		return fmt.Errorf("backfill completed with %d failures", failCount)
	}
	return nil
}
