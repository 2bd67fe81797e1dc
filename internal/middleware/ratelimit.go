package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/selahapp/identity/internal/model"
)

// Scope はレート制限の対象操作を表す。スコープごとに独立したカウンタを持つ。
type Scope string

const (
	ScopeLogin         Scope = "login"
	ScopeRegister      Scope = "register"
	ScopePasswordReset Scope = "password_reset"
	ScopeMagicRequest  Scope = "magic_request"
	ScopeMagicVerify   Scope = "magic_verify"
)

// ScopeLimit は1スコープのウィンドウ設定。
type ScopeLimit struct {
	Rate  rate.Limit // 補充レート（req/sec）
	Burst int        // ウィンドウあたりの許容回数
}

// IPRateLimiterConfig はIPアドレス単位のレート制限設定。
type IPRateLimiterConfig struct {
	Limits          map[Scope]ScopeLimit
	CleanupInterval time.Duration
}

// DefaultIPRateLimiterConfig はデフォルトのレート制限設定を返す。
// ログイン: 15分あたり5回（失敗のみ消費）、登録: 1時間あたり3回、
// パスワードリセット: 1時間あたり3回、マジックコード要求: 15分あたり5回、
// マジックコード検証: 15分あたり10回。
func DefaultIPRateLimiterConfig() IPRateLimiterConfig {
	return IPRateLimiterConfig{
		Limits: map[Scope]ScopeLimit{
			ScopeLogin:         {Rate: rate.Limit(5.0 / 900.0), Burst: 5},
			ScopeRegister:      {Rate: rate.Limit(3.0 / 3600.0), Burst: 3},
			ScopePasswordReset: {Rate: rate.Limit(3.0 / 3600.0), Burst: 3},
			ScopeMagicRequest:  {Rate: rate.Limit(5.0 / 900.0), Burst: 5},
			ScopeMagicVerify:   {Rate: rate.Limit(10.0 / 900.0), Burst: 10},
		},
		CleanupInterval: 5 * time.Minute,
	}
}

// RateLimitMetrics はレート制限拒否の記録インターフェース。
type RateLimitMetrics interface {
	RecordRateLimited(scope string)
}

// ipLimiter はIPアドレスごとのレートリミッターとアクセス時刻を保持する。
type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// scopeLimiters は1スコープ分のIP別リミッターマップ。
type scopeLimiters struct {
	mu       sync.Mutex
	limit    ScopeLimit
	limiters map[string]*ipLimiter
}

// IPRateLimiter は認証エンドポイントのIPアドレス単位レート制限を管理する。
// スコープごとに独立したウィンドウを持ち、同一IPの別スコープへの
// リクエストは互いに影響しない。
type IPRateLimiter struct {
	config  IPRateLimiterConfig
	scopes  map[Scope]*scopeLimiters
	metrics RateLimitMetrics

	stopCh chan struct{}
}

// NewIPRateLimiter は新しいIPRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
// metricsはnil可。
func NewIPRateLimiter(config IPRateLimiterConfig, metrics RateLimitMetrics) *IPRateLimiter {
	scopes := make(map[Scope]*scopeLimiters, len(config.Limits))
	for scope, limit := range config.Limits {
		scopes[scope] = &scopeLimiters{
			limit:    limit,
			limiters: make(map[string]*ipLimiter),
		}
	}

	rl := &IPRateLimiter{
		config:  config,
		scopes:  scopes,
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *IPRateLimiter) Stop() {
	close(rl.stopCh)
}

// Middleware は指定スコープのレート制限ミドルウェアを返す。
// リクエストごとに1回分を消費し、超過時は429を返す。
func (rl *IPRateLimiter) Middleware(scope Scope) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !rl.Allow(scope, ip) {
				rl.reject(w, scope, ip)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PeekMiddleware は消費せずに残量のみを確認するミドルウェアを返す。
// ウィンドウが使い切られている場合は429を返し、残量がある場合は
// 消費せずに通過させる。成功したリクエストをカウントに含めない
// スコープ（ログイン）で、失敗確定時のConsumeと組で使用する。
func (rl *IPRateLimiter) PeekMiddleware(scope Scope) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			if !rl.Peek(scope, ip) {
				rl.reject(w, scope, ip)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Allow は1回分を消費する。消費できた場合はtrueを返す。
func (rl *IPRateLimiter) Allow(scope Scope, ip string) bool {
	sl, ok := rl.scopes[scope]
	if !ok {
		return true
	}
	return sl.getOrCreate(ip).Allow()
}

// Peek は消費せずに残量があるかどうかを返す。
func (rl *IPRateLimiter) Peek(scope Scope, ip string) bool {
	sl, ok := rl.scopes[scope]
	if !ok {
		return true
	}
	return sl.getOrCreate(ip).Tokens() >= 1
}

// Consume は1回分を消費する。ハンドラー側で結果が確定してから
// カウントするスコープ用（ログイン失敗時など）。
func (rl *IPRateLimiter) Consume(scope Scope, ip string) {
	sl, ok := rl.scopes[scope]
	if !ok {
		return
	}
	sl.getOrCreate(ip).Allow()
}

// LimiterCount は指定スコープで管理されているエントリ数を返す。
// テストおよびメトリクス用。
func (rl *IPRateLimiter) LimiterCount(scope Scope) int {
	sl, ok := rl.scopes[scope]
	if !ok {
		return 0
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.limiters)
}

// reject は429レスポンスを書き込み、拒否を記録する。
func (rl *IPRateLimiter) reject(w http.ResponseWriter, scope Scope, ip string) {
	sl := rl.scopes[scope]
	writeRateLimitResponse(w, sl.limit.Rate)

	slog.Warn("rate limit exceeded",
		slog.String("ip", ip),
		slog.String("scope", string(scope)),
	)
	if rl.metrics != nil {
		rl.metrics.RecordRateLimited(string(scope))
	}
}

// getOrCreate はIPのリミッターを取得または作成し、アクセス時刻を更新する。
func (sl *scopeLimiters) getOrCreate(ip string) *rate.Limiter {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if il, exists := sl.limiters[ip]; exists {
		il.lastAccess = time.Now()
		return il.limiter
	}

	limiter := rate.NewLimiter(sl.limit.Rate, sl.limit.Burst)
	sl.limiters[ip] = &ipLimiter{
		limiter:    limiter,
		lastAccess: time.Now(),
	}

	return limiter
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻からウィンドウ全回復に十分な時間が経過した
// エントリを削除する。
func (rl *IPRateLimiter) cleanup() {
	now := time.Now()

	for _, sl := range rl.scopes {
		// ウィンドウ全体が回復するまでの時間 + 余裕
		ttl := time.Duration(float64(sl.limit.Burst)/float64(sl.limit.Rate))*time.Second + rl.config.CleanupInterval

		sl.mu.Lock()
		for ip, il := range sl.limiters {
			if now.Sub(il.lastAccess) > ttl {
				delete(sl.limiters, ip)
			}
		}
		sl.mu.Unlock()
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := int(math.Ceil(1.0 / float64(r)))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))

	apiErr := model.NewRateLimitExceededError()
	WriteErrorResponse(w, apiErr.Status, apiErr)
}

// ClientIP はリクエストの送信元IPアドレスを返す。
// chiのRealIPミドルウェアがX-Forwarded-For等をRemoteAddrに反映するため、
// ここではRemoteAddrのみを参照する。
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
