package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"botserver/pkg/channel"
	"botserver/pkg/channel/telegram"
	"botserver/pkg/channel/web"
	"botserver/pkg/config"
	"botserver/pkg/gateway"
	"botserver/pkg/logger"

	"github.com/spf13/cobra"
)

const telegramChannelName = "telegram"
const webChannelName = "web"

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run channel gateway mode",
	Long:  "Serves every loaded bot on the enabled channels, with health and readiness endpoints.",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, appLogger)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		rt, err := newRuntime(cfg, appLogger)
		if err != nil {
			log.Error("Failed to initialize runtime", "error", err)
			return err
		}
		defer func() {
			if err := rt.Close(); err != nil {
				log.Error("Failed to close runtime", "error", err)
			}
		}()

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		rt.observe(runCtx, appLogger)

		svc, err := gateway.NewService(cfg, rt.engine.Handle, adapters, rt.dependencies(), appLogger)
		if err != nil {
			log.Error("Failed to initialize gateway service", "error", err)
			return err
		}

		log.Info("Gateway started", "channels", enabledChannelNames(adapters), "bots", strings.Join(rt.catalog.Names(), ","), "cache", cfg.Cache.Backend)
		if err := svc.Run(runCtx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		bot := strings.TrimSpace(cfg.Channels.Telegram.Bot)
		if bot == "" {
			bot = strings.TrimSpace(cfg.Bots.Default)
		}
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, bot, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Web.Enabled {
		adapter, err := web.NewAdapter(cfg.Channels.Web, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", webChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
