// Package auth は API キーによる認証機能を提供します。
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/tex-forge/internal/config"
)

// ContextClientKey は、ハンドラー間で認証済みクライアント識別子を共有するためのキーです。
const ContextClientKey = "auth.client"

// Manager は API キー認証の設定と照合をまとめた構造体です。
type Manager struct {
	header   string
	keys     []string
	required bool
}

// NewManager は認証マネージャーを作成します。
// 許可キーが 1 つも設定されていない場合、認証は無効になります。
func NewManager(cfg *config.Config) *Manager {
	var keys []string
	for _, key := range strings.Split(cfg.AllowedAPIKeys, ",") {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return &Manager{
		header:   cfg.APIKeyHeader,
		keys:     keys,
		required: cfg.APIKeyRequired && len(keys) > 0,
	}
}

// Enabled は認証が有効かどうかを返します。
func (m *Manager) Enabled() bool {
	return m.required
}

// Verify は受け取ったキーが許可リストに含まれるかを判定します。
// タイミング攻撃を避けるため定数時間比較を使います。
func (m *Manager) Verify(key string) bool {
	if key == "" {
		return false
	}
	matched := false
	for _, allowed := range m.keys {
		if subtle.ConstantTimeCompare([]byte(allowed), []byte(key)) == 1 {
			matched = true
		}
	}
	return matched
}

// Identity はレート制限などで使うクライアント識別子を返します。
// 認証済みであれば API キー、そうでなければ接続元 IP です。
func (m *Manager) Identity(c *gin.Context) string {
	if v, ok := c.Get(ContextClientKey); ok {
		if key, ok := v.(string); ok && key != "" {
			return key
		}
	}
	return c.ClientIP()
}
