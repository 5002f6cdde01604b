// Package ingest はpendingのScrapeRunをバックグラウンドで処理するスケジューラを提供する。
package ingest

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fandomwatch/internal/model"
	"github.com/hitoshi/fandomwatch/internal/repository"
)

// RunProcessor はScrapeRunの処理と再投入のインターフェース。*ingest.Serviceが満たす。
type RunProcessor interface {
	// Process はrunning状態のScrapeRunを処理し、終端状態を書き込む。
	Process(ctx context.Context, run *model.ScrapeRun) *model.IngestResult
	// Submit は要求を検証してpendingのScrapeRunを作成する。
	Submit(ctx context.Context, req model.IngestRequest) (*model.ScrapeRun, error)
}

// Scheduler はpendingのScrapeRunを定期的に取得し、異なるデータセットを並列に処理する。
// 1サイクルで取得する件数と並列数はmaxConcurrencyで制御する。
type Scheduler struct {
	runs           repository.ScrapeRunRepository
	processor      RunProcessor
	logger         *slog.Logger
	maxConcurrency int
	batchSize      int
	retries        *retryQueue
	now            func() time.Time
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	runs repository.ScrapeRunRepository,
	processor RunProcessor,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Scheduler{
		runs:           runs,
		processor:      processor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchSize:      maxConcurrency * 4,
		retries:        newRetryQueue(DefaultMaxRetries),
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("取り込みサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("取り込みサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は再実行待ちの要求を投入したうえでpendingのScrapeRunを取得し、並列に処理する。
// 個々の失敗はログに記録するのみで、サイクル全体は中断しない。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()
	s.resubmitDue(ctx)

	// pendingの実行を排他的に取得（FOR UPDATE SKIP LOCKED）
	runs, err := s.runs.ClaimPending(ctx, s.batchSize)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		s.logger.Debug("処理対象のScrapeRunはありません")
		return nil
	}

	s.logger.Info("取り込みサイクルを開始します",
		slog.Int("run_count", len(runs)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)
	for _, run := range runs {
		g.Go(func() error {
			s.handleResult(run, s.processor.Process(gctx, run))
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("run_count", len(runs)),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return nil
}

func (s *Scheduler) handleResult(run *model.ScrapeRun, result *model.IngestResult) {
	if result.Success {
		s.retries.succeeded(run.Request)
		return
	}
	if !result.Retryable {
		return
	}
	delay, ok := s.retries.schedule(run.Request, s.now())
	if !ok {
		s.logger.Warn("再実行回数の上限に達したため再実行しません",
			slog.String("run_id", run.ID),
			slog.String("source_job_id", run.Request.SourceJobID),
		)
		return
	}
	s.logger.Info("一時的な失敗のため再実行を予約しました",
		slog.String("run_id", run.ID),
		slog.String("source_job_id", run.Request.SourceJobID),
		slog.Duration("delay", delay),
	)
}

func (s *Scheduler) resubmitDue(ctx context.Context) {
	for _, req := range s.retries.due(s.now()) {
		run, err := s.processor.Submit(ctx, req)
		if err != nil {
			s.logger.Error("再実行の投入に失敗しました",
				slog.String("source_job_id", req.SourceJobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("取り込みを再投入しました",
			slog.String("run_id", run.ID),
			slog.String("source_job_id", req.SourceJobID),
		)
	}
}
