package reaper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sweeper は期限切れの参加者を削除する
type Sweeper interface {
	Sweep(ctx context.Context, staleAfter time.Duration) []string
}

// Reaper は一定間隔で Sweep を実行するバックグラウンドタスク
type Reaper struct {
	sweeper    Sweeper
	clock      clockwork.Clock
	period     time.Duration
	staleAfter time.Duration
	log        *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
	sweeps  atomic.Int64
}

// NewReaper は新しいReaperを作成する
func NewReaper(sweeper Sweeper, clock clockwork.Clock, period, staleAfter time.Duration, log *slog.Logger) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		sweeper:    sweeper,
		clock:      clock,
		period:     period,
		staleAfter: staleAfter,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start は ctx がキャンセルされるか Stop が呼ばれるまで定期的に Sweep を実行する
// Stop の後や二重に呼ばれた場合は何もせずに戻る
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	ticker := r.clock.NewTicker(r.period)
	defer ticker.Stop()

	r.log.Info("Reaper started", "period", r.period, "staleAfter", r.staleAfter)

	for {
		select {
		case <-ticker.Chan():
			r.runOnce(ctx)
		case <-ctx.Done():
			r.log.Info("Reaper stopping due to context cancellation")
			return
		case <-r.ctx.Done():
			r.log.Info("Reaper stopping")
			return
		}
	}
}

// Stop はループを止め、実行中の Sweep の完了を待つ
func (r *Reaper) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}

// Sweeps は完了した Sweep の回数を返す
func (r *Reaper) Sweeps() int64 {
	return r.sweeps.Load()
}

func (r *Reaper) runOnce(ctx context.Context) {
	defer r.sweeps.Add(1)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("Sweep panicked", "panic", rec)
		}
	}()

	if evicted := r.sweeper.Sweep(ctx, r.staleAfter); len(evicted) > 0 {
		r.log.Info("Sweep evicted participants", "count", len(evicted), "names", evicted)
	}
}
