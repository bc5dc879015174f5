// Package ratelimit はクライアント単位のリクエスト回数制限を提供します。
package ratelimit

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Limiter はスライディングウィンドウ方式のレート制限です。
// クライアントごとに直近のリクエスト時刻を記録し、ウィンドウ内の
// 件数が上限未満の場合だけ許可します。状態はプロセス内に保持されます。
type Limiter struct {
	window time.Duration
	max    int

	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewLimiter は Limiter を作成します。
func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow は clientID のリクエストを 1 件許可できるか判定します。
// 許可した場合のみ記録に追加します。
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	threshold := now.Add(-l.window)

	// ウィンドウ外の記録を先に捨ててから判定する
	kept := l.hits[clientID][:0]
	for _, t := range l.hits[clientID] {
		if t.After(threshold) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.max {
		l.hits[clientID] = kept
		return false
	}

	l.hits[clientID] = append(kept, now)
	return true
}

// Middleware はレート制限を適用する gin ミドルウェアを返します。
// identity はリクエストからクライアント識別子を取り出す関数です。
func (l *Limiter) Middleware(identity func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(identity(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": "RATE_LIMITED",
				"message": fmt.Sprintf("Rate limit exceeded. Maximum %d requests per %d seconds.",
					l.max, int(l.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
