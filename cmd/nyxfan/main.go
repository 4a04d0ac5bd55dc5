package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cubbyland/NyxFan/internal/chat"
	"github.com/cubbyland/NyxFan/internal/config"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/fanbot"
	"github.com/cubbyland/NyxFan/internal/identity"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/prefs"
	"github.com/cubbyland/NyxFan/internal/session"
	"github.com/cubbyland/NyxFan/internal/unlock"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nyxfan",
		Short: "Fan-side notification bot",
		Long: `nyxfan delivers creator updates to fans over the chat gateway,
honoring per-creator notification preferences, and serves the dashboard,
settings, and unlock flows.`,
	}
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox and serve chat updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if cfg.GatewayURL == "" {
				return fmt.Errorf("NYXFAN_GATEWAY_URL is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := mailbox.BuildStoreFromDSN(cfg.MailboxDSN)
			if err != nil {
				return fmt.Errorf("mailbox store: %w", err)
			}
			defer store.Close()
			prefStore, err := prefs.BuildStoreFromDSN(cfg.PrefsDSN)
			if err != nil {
				return fmt.Errorf("preference store: %w", err)
			}
			defer prefStore.Close()
			registry, err := identity.OpenRegistry(cfg.RegistryPath)
			if err != nil {
				return fmt.Errorf("identity registry: %w", err)
			}
			index, err := unlock.NewFileIndex(cfg.UnlockIndexPath)
			if err != nil {
				return fmt.Errorf("unlock index: %w", err)
			}

			gateway, err := chat.DialGateway(ctx, cfg.GatewayURL, cfg.GatewayToken)
			if err != nil {
				return fmt.Errorf("dial gateway: %w", err)
			}
			defer gateway.Close()

			sessions := session.NewStore()
			handlers := fanbot.NewHandlers(store, gateway, prefStore, registry, sessions, index, cfg.Entrypoint)
			dispatcher := dispatch.New(store)
			handlers.RegisterAll(dispatcher)

			machine := unlock.NewMachine(gateway, sessions, index, func(ctx context.Context, job mailbox.Job) error {
				return dispatcher.Locked(func() error {
					return store.Append(ctx, job)
				})
			})
			bot := fanbot.NewBot(store, gateway, prefStore, registry, sessions, machine, handlers, dispatcher, cfg.Entrypoint)

			var wake <-chan struct{}
			if path := cfg.MailboxPath(); path != "" {
				watcher, err := mailbox.WatchFile(path)
				if err != nil {
					log.Printf("mailbox watcher unavailable, polling only: %v", err)
				} else {
					defer watcher.Close()
					wake = watcher.C
				}
			}

			go func() {
				if err := bot.Consume(ctx, gateway.Updates()); err != nil && ctx.Err() == nil {
					log.Printf("update consumer stopped: %v", err)
				}
			}()

			log.Printf("nyxfan polling %s every %s", cfg.MailboxDSN, cfg.PollInterval)
			err = dispatcher.Run(ctx, cfg.PollInterval, wake)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}
