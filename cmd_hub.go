package main

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"street-dice/internal/cache"
	"street-dice/internal/database"
	"street-dice/internal/https"
	"street-dice/internal/hub"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run the shared message hub (HTTP + websocket)",
	RunE:  runHub,
}

func runHub(cmd *cobra.Command, args []string) error {
	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs := cache.NewBlobCache(db, appLog, time.Minute)
	defer blobs.Close()

	handler := hub.NewServer(db, blobs, appLog).Handler()

	var servers []*http.Server
	g, ctx := errgroup.WithContext(cmd.Context())

	if cfg.EnableHTTPS {
		m, err := https.NewManager(&https.Config{
			Domain:    cfg.Domain,
			CacheDir:  cfg.CertCacheDir,
			Email:     cfg.AdminEmail,
			HTTPSPort: cfg.HTTPSPort,
		}, appLog)
		if err != nil {
			return err
		}

		redirect := m.RedirectServer()
		secure := m.Server(handler)
		servers = append(servers, redirect, secure)

		g.Go(func() error { return serve(redirect.ListenAndServe) })
		g.Go(func() error {
			return serve(func() error { return secure.ListenAndServeTLS("", "") })
		})
	} else {
		plain := &http.Server{Addr: cfg.HubAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		servers = append(servers, plain)
		g.Go(func() error { return serve(plain.ListenAndServe) })
	}

	appLog.Info("🌐 hub 启动: 地址=%s https=%v 数据库=%s", cfg.HubAddr, cfg.EnableHTTPS, cfg.DatabaseURL)

	g.Go(func() error {
		<-ctx.Done()
		for _, srv := range servers {
			if err := shutdown(srv); err != nil {
				appLog.ErrorWithContext("HUB", "关闭服务器失败: %v", err)
			}
		}
		return nil
	})

	err = g.Wait()
	appLog.Info("✅ hub 已关闭")
	return err
}
