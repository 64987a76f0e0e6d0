package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"street-dice/internal/console"
	"street-dice/internal/game"
	"street-dice/internal/gamesync"
	"street-dice/internal/hub"
	"street-dice/internal/models"
)

var (
	playMessageID string
	playPlayer    string
	playName      string
	playChat      string

	playCmd = &cobra.Command{
		Use:   "play",
		Short: "Play on a hub message from the terminal",
		Long: `Joins a game message on the hub (or posts a new one) and plays it from
the terminal. With --chat and no --message it joins the latest unfinished
game in that chat before posting a new one.
Press Enter to pick up the dice and Enter again to throw.
Type n for a new match once the current one is over, q to quit.`,
		RunE: runPlay,
	}
)

func init() {
	playCmd.Flags().StringVar(&playMessageID, "message", "", "game message id on the hub (posts a new one when empty)")
	playCmd.Flags().StringVar(&playPlayer, "player", "", "player id (defaults to PLAYER_ID)")
	playCmd.Flags().StringVar(&playName, "name", "", "display name (defaults to PLAYER_NAME)")
	playCmd.Flags().StringVar(&playChat, "chat", "", "chat to post new games in and to look for open games")
}

func runPlay(cmd *cobra.Command, args []string) error {
	player := playPlayer
	if player == "" {
		player = cfg.PlayerID
	}
	if player == "" {
		return errors.New("需要 --player 或 PLAYER_ID")
	}
	name := playName
	if name == "" {
		name = cfg.PlayerName
	}

	client, err := hub.NewClient(cfg.HubURL, appLog)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	lines := readLines(ctx, cmd.InOrStdin())

	id := playMessageID
	for {
		if id == "" && playChat != "" {
			id, err = findOpenGame(ctx, client, playChat)
			if err != nil {
				return err
			}
			if id != "" {
				fmt.Fprintf(out, "加入对局消息: %s\n", id)
			}
		}
		if id == "" {
			id, err = client.CreateMessage(ctx, hub.CreateRequest{ChatID: playChat, SenderID: player, Kind: models.MessageKindGame})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "新的对局消息: %s\n", id)
		}

		next, err := playMessage(ctx, client, id, player, name, lines, out)
		if err != nil || !next {
			return err
		}
		id = ""
	}
}

// playMessage 在一条消息上玩到退出；返回 true 表示要开新局
func playMessage(ctx context.Context, client *hub.Client, id, player, name string, lines <-chan string, out io.Writer) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	adapter := gamesync.NewAdapter(client, player, appLog)
	ctrl := game.NewController(player, id, game.Options{
		Timing:  cfg.Timing(),
		Logger:  appLog,
		Commit:  adapter.CommitFunc(ctx, id),
		OnFrame: func(f game.Frame) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprint(out, "\033[H\033[2J")
			fmt.Fprintln(out, console.RenderFrame(f, player, name))
		},
	})
	defer ctrl.Close()

	attached := make(chan error, 1)
	go func() {
		attached <- adapter.Attach(ctx, id, ctrl)
	}()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case err := <-attached:
			if err != nil && !errors.Is(err, context.Canceled) {
				return false, fmt.Errorf("与 hub 的连接中断: %w", err)
			}
			return false, nil
		case line, ok := <-lines:
			if !ok {
				return false, nil
			}

			switch strings.TrimSpace(strings.ToLower(line)) {
			case "q", "quit":
				return false, nil
			case "n", "new":
				if ctrl.State().Terminal() {
					return true, nil
				}
				fmt.Fprintln(out, "对局还没结束")
			case "":
				var err error
				if ctrl.Phase() == game.PhaseCharging {
					err = ctrl.Release()
				} else {
					err = ctrl.Press()
				}
				if err != nil {
					fmt.Fprintf(out, "%v\n", err)
				}
			}
		}
	}
}

// findOpenGame 会话里最近一局还没结束的游戏消息，没有时返回空
func findOpenGame(ctx context.Context, client *hub.Client, chatID string) (string, error) {
	msgs, err := client.ListChatMessages(ctx, chatID, 50)
	if err != nil {
		return "", fmt.Errorf("查询会话消息失败: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Kind != models.MessageKindGame {
			continue
		}
		// 空白或损坏的消息按初始状态处理，同样可以加入
		state, _ := gamesync.Decode(m.Text)
		if !state.Terminal() {
			return m.ID, nil
		}
	}
	return "", nil
}

func readLines(ctx context.Context, in io.Reader) <-chan string {
	if in == nil {
		in = os.Stdin
	}
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
