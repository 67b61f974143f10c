package camera

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryPolicy はデバイス解決の再試行方針
type RetryPolicy struct {
	// MaxAttempts は再試行回数の上限。0なら解決するまで待ち続ける
	MaxAttempts int
	// InitialInterval は最初の待機時間。0なら毎ティック再試行する
	InitialInterval time.Duration
	// MaxInterval は待機時間の上限
	MaxInterval time.Duration
	// Multiplier は待機時間の増加率
	Multiplier float64
	// Jitter は待機時間のランダム化係数 (0〜1)
	Jitter float64
	// LogInterval は同じエラーログを出す最小間隔。0なら毎回出力する
	LogInterval time.Duration
}

// DefaultRetryPolicy は上限なし・毎ティック再試行・ログは1秒に1回
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		MaxInterval: 5 * time.Second,
		Multiplier:  2,
		Jitter:      0,
		LogInterval: time.Second,
	}
}

// retrier は1回のポーリングタスクに紐づく再試行状態
type retrier struct {
	policy   RetryPolicy
	bo       *backoff.ExponentialBackOff
	limiter  *rate.Limiter
	next     time.Time
	attempts int
}

func newRetrier(p RetryPolicy) *retrier {
	r := &retrier{policy: p}
	if p.InitialInterval > 0 {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = p.InitialInterval
		bo.RandomizationFactor = p.Jitter
		if p.Multiplier > 0 {
			bo.Multiplier = p.Multiplier
		}
		if p.MaxInterval > 0 {
			bo.MaxInterval = p.MaxInterval
		}
		bo.Reset()
		r.bo = bo
	}
	if p.LogInterval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(p.LogInterval), 1)
	}
	return r
}

// ready は now 時点で再試行してよいか
func (r *retrier) ready(now time.Time) bool {
	return !now.Before(r.next)
}

// fail は失敗を記録し、上限に達したら true を返す
func (r *retrier) fail(now time.Time) bool {
	r.attempts++
	if r.policy.MaxAttempts > 0 && r.attempts >= r.policy.MaxAttempts {
		return true
	}
	if r.bo != nil {
		d := r.bo.NextBackOff()
		if d == backoff.Stop {
			return true
		}
		r.next = now.Add(d)
	}
	return false
}

// shouldLog はログの洪水を防ぐために出力可否を判定する
func (r *retrier) shouldLog(now time.Time) bool {
	if r.limiter == nil {
		return true
	}
	return r.limiter.AllowN(now, 1)
}
