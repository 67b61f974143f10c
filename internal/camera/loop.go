package camera

import (
	"context"
	"sync"
	"time"
)

// Ticker はフレームごとに呼ばれる処理
type Ticker interface {
	Tick(now time.Time)
}

// TickerFunc は関数をTickerとして扱う
type TickerFunc func(now time.Time)

// Tick は f(now) を呼ぶ
func (f TickerFunc) Tick(now time.Time) { f(now) }

// FrameLoop は一定間隔で登録されたTickerを順に呼び出す
type FrameLoop struct {
	interval time.Duration
	tickers  []Ticker

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	active bool
}

// NewFrameLoop はfpsで動作するFrameLoopを作成する
func NewFrameLoop(fps int, tickers ...Ticker) *FrameLoop {
	if fps <= 0 {
		fps = 30
	}
	return &FrameLoop{
		interval: time.Second / time.Duration(fps),
		tickers:  tickers,
		stopCh:   make(chan struct{}),
	}
}

// Start はバックグラウンドでループを開始する
func (l *FrameLoop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active {
		return
	}
	l.active = true

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop はループを停止して終了を待つ
func (l *FrameLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.active {
		return
	}
	close(l.stopCh)
	l.wg.Wait()

	// 再開可能にするため新しいチャンネルを作成
	l.stopCh = make(chan struct{})
	l.active = false
}

// Step は全てのTickerを1回呼び出す
func (l *FrameLoop) Step(now time.Time) {
	for _, t := range l.tickers {
		t.Tick(now)
	}
}

func (l *FrameLoop) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Step(now)
		}
	}
}
