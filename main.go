package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"street-dice/internal/config"
	"street-dice/internal/logger"
)

var (
	cfg    *config.Config
	appLog *logger.Logger

	rootCmd = &cobra.Command{
		Use:   "streetdice",
		Short: "Street Dice: a two-player dice game that lives inside a chat message",
		Long: `Street Dice keeps the whole match state inside one shared chat message.
Run it as a Telegram bot, as a standalone message hub, or play against
someone on the hub from a terminal.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}

			appLog, err = logger.NewLogger(cfg.LogDir, cfg.LogDebug)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if appLog != nil {
				appLog.Close()
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(botCmd, hubCmd, playCmd, simCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
