package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"botserver/pkg/bus"
	"botserver/pkg/config"
	"botserver/pkg/dialog"
	"botserver/pkg/logger"
	"botserver/pkg/ui/chat"

	"github.com/spf13/cobra"
)

var (
	chatMessage string
	chatPlain   bool
	chatVerbose bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [bot]",
	Short: "Talk to a bot in the terminal",
	Long:  "Loads the bots, keeps waits in memory, and opens a terminal conversation with one bot.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadChatConfig()
		if err != nil {
			return err
		}
		cfg.Cache.Backend = config.CacheBackendMemory

		log := logger.Discard()
		if chatVerbose {
			if log, err = logger.New(cfg.Logging); err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
		}

		rt, err := newRuntime(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = rt.Close() }()

		botName, err := resolveBot(args, cfg, rt.catalog.Names())
		if err != nil {
			return err
		}
		bot, err := rt.catalog.Get(botName)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		local, err := dialog.StartLocalSession(ctx, rt.engine, nil, botName, chatVerbose, log)
		if err != nil {
			return err
		}
		defer local.Close()

		send := func(ctx context.Context, text string) (bus.OutboundMessage, error) {
			return local.Send(ctx, text)
		}
		info := chat.RuntimeInfo{Bot: botName, Dialogs: bot.Dialogs(), Cache: cfg.Cache.Backend}

		if message := strings.TrimSpace(chatMessage); message != "" {
			if chatPlain {
				return sendPlain(ctx, cmd.OutOrStdout(), send, message)
			}
			return chat.RunOneShot(ctx, send, message, info)
		}
		if chatPlain {
			return runPlain(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), send)
		}
		return chat.RunInteractive(ctx, send, info)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and print the reply")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line-based chat without the full-screen UI")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "log engine events")
}

// loadChatConfig falls back to defaults when there is no config file.
func loadChatConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if errors.Is(err, config.ErrConfigNotFound) {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// resolveBot picks the argument, the configured default, or the only
// loaded bot.
func resolveBot(args []string, cfg *config.Config, loaded []string) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if name := strings.TrimSpace(cfg.Bots.Default); name != "" {
		return name, nil
	}
	switch len(loaded) {
	case 0:
		return "", fmt.Errorf("no bots found under %s", cfg.Bots.Root)
	case 1:
		return loaded[0], nil
	default:
		return "", fmt.Errorf("several bots are loaded (%s), name one", strings.Join(loaded, ", "))
	}
}

func sendPlain(ctx context.Context, out io.Writer, send chat.SendFunc, text string) error {
	reply, err := send(ctx, text)
	if err != nil {
		return err
	}
	printBotReply(out, reply)
	return nil
}

func runPlain(ctx context.Context, in io.Reader, out io.Writer, send chat.SendFunc) error {
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, "👤 ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if isExitCommand(text) {
			return nil
		}

		reply, err := send(ctx, text)
		if err != nil {
			fmt.Fprintf(out, "message failed: %v\n", err)
			slog.Debug("Chat message failed", "error", err)
			continue
		}

		printBotReply(out, reply)
	}
}

func printBotReply(out io.Writer, reply bus.OutboundMessage) {
	lines := botLines(reply)
	for _, line := range lines {
		fmt.Fprintf(out, "🤖 %s\n", line)
	}
	for i, suggestion := range reply.Suggestions {
		fmt.Fprintf(out, "   %d. %s\n", i+1, suggestion.Text)
	}
	if len(lines) > 0 || len(reply.Suggestions) > 0 {
		fmt.Fprintln(out)
	}
}

func botLines(reply bus.OutboundMessage) []string {
	messages := reply.Messages
	if len(messages) == 0 && strings.TrimSpace(reply.Content) != "" {
		messages = []string{reply.Content}
	}

	var lines []string
	for _, message := range messages {
		trimmed := strings.TrimSpace(message)
		if trimmed == "" {
			continue
		}
		lines = append(lines, strings.Split(trimmed, "\n")...)
	}
	return lines
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	default:
		return false
	}
}
