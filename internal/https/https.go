package https

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/acme/autocert"

	"street-dice/internal/logger"
)

// Config HTTPS配置
type Config struct {
	Domain    string // 域名
	CacheDir  string // 证书缓存目录
	Email     string // Let's Encrypt邮箱
	HTTPSPort string // HTTPS端口
}

// Manager 为 hub 申请和续期证书
type Manager struct {
	config      *Config
	certManager *autocert.Manager
	log         *logger.Logger
}

// NewManager 创建HTTPS管理器
func NewManager(config *Config, log *logger.Logger) (*Manager, error) {
	if err := ValidateDomain(config.Domain); err != nil {
		return nil, err
	}

	cacheDir := config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	return &Manager{
		config: config,
		certManager: &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(config.Domain),
			Cache:      autocert.DirCache(cacheDir),
			Email:      config.Email,
		},
		log: log,
	}, nil
}

// TLSConfig 获取TLS配置
func (m *Manager) TLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.certManager.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
	}
}

// RedirectServer 80 端口：处理 ACME 挑战，其余请求重定向到 HTTPS
func (m *Manager) RedirectServer() *http.Server {
	redirect := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := "https://" + r.Host + r.URL.Path
		if len(r.URL.RawQuery) > 0 {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})

	return &http.Server{
		Addr:              ":80",
		Handler:           m.certManager.HTTPHandler(redirect),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Server HTTPS 服务器，调用方使用 ListenAndServeTLS("", "") 启动
func (m *Manager) Server(handler http.Handler) *http.Server {
	port := m.config.HTTPSPort
	if port == "" {
		port = "443"
	}
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}

	m.log.InfoWithContext("HTTPS", "HTTPS服务器地址 %s, 域名 %s", port, m.config.Domain)
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		TLSConfig:         m.TLSConfig(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ValidateDomain 验证域名配置
func ValidateDomain(domain string) error {
	if domain == "" {
		return fmt.Errorf("域名不能为空")
	}
	if len(domain) < 3 || !strings.Contains(domain, ".") || strings.ContainsAny(domain, "/: ") {
		return fmt.Errorf("域名格式无效: %s", domain)
	}
	return nil
}
