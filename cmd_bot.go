package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"street-dice/internal/bot"
	"street-dice/internal/database"
)

var (
	botMetricsAddr string

	botCmd = &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot host",
		RunE:  runBot,
	}
)

func init() {
	botCmd.Flags().StringVar(&botMetricsAddr, "metrics-addr", "", "serve /metrics on this address (disabled when empty)")
}

func runBot(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	db, err := database.Init(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	telegramBot, err := bot.NewBot(cfg, db, appLog)
	if err != nil {
		return err
	}

	appLog.Info("🎲 Street Dice 机器人启动: 数据库=%s 工作者=%d 编辑频率=%.0f/s", cfg.DatabaseURL, cfg.BotWorkers, cfg.BotEditRate)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return telegramBot.Start(ctx)
	})

	if botMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: botMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			return serve(srv.ListenAndServe)
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(srv)
		})
	}

	err = g.Wait()
	appLog.Info("✅ 机器人已关闭")
	return err
}

// serve 把正常关闭当成成功
func serve(listen func() error) error {
	if err := listen(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
