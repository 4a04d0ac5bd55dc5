package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cubbyland/NyxFan/internal/config"
	"github.com/cubbyland/NyxFan/internal/dispatch"
	"github.com/cubbyland/NyxFan/internal/mailbox"
	"github.com/cubbyland/NyxFan/internal/proxy"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nyxproxy",
		Short: "Creator-side proxy bot",
		Long: `nyxproxy enqueues creator events (posts, price changes, direct
messages) into the shared mailbox for the fan process, and consumes join
announcements and delivery alerts addressed back to it.`,
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStores() (config.Config, mailbox.Store, *proxy.Roster, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	store, err := mailbox.BuildStoreFromDSN(cfg.MailboxDSN)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("mailbox store: %w", err)
	}
	roster, err := proxy.OpenRoster(cfg.RosterPath)
	if err != nil {
		store.Close()
		return config.Config{}, nil, nil, fmt.Errorf("roster: %w", err)
	}
	return cfg, store, roster, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the mailbox for joins and alerts until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, roster, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handlers := proxy.NewHandlers(roster)
			dispatcher := dispatch.New(store)
			handlers.RegisterAll(dispatcher)

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

			log.Printf("nyxproxy polling %s every %s", cfg.MailboxDSN, cfg.PollInterval)
			err = dispatcher.Run(ctx, cfg.PollInterval, wake)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func sendCmd() *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Enqueue one event for the fan process",
	}

	var (
		subject   string
		creator   string
		title     string
		mediaKind string
		mediaRef  string
		contentID string
		oldPrice  string
		newPrice  string
		message   string
	)

	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Enqueue a new-post notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()
			job, err := proxy.NewNotifier(store).Relay(cmd.Context(), proxy.RelayEvent{
				SubjectID: subject,
				Creator:   creator,
				Title:     title,
				Media:     mailbox.MediaRef{Kind: mailbox.MediaKind(mediaKind), Ref: mediaRef},
				ContentID: contentID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("enqueued relay %s\n", job.ID)
			return nil
		},
	}
	relayCmd.Flags().StringVar(&title, "title", "", "post title")
	relayCmd.Flags().StringVar(&mediaKind, "media-kind", "image", "declared media kind (image, animation, video, document)")
	relayCmd.Flags().StringVar(&mediaRef, "media-ref", "", "teaser media reference")
	relayCmd.Flags().StringVar(&contentID, "content-id", "", "unlockable content id")
	_ = relayCmd.MarkFlagRequired("media-ref")

	subchgCmd := &cobra.Command{
		Use:   "subchg",
		Short: "Enqueue a subscription price change",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()
			job, err := proxy.NewNotifier(store).SubChange(cmd.Context(), proxy.SubChangeEvent{
				SubjectID: subject,
				Creator:   creator,
				OldPrice:  oldPrice,
				NewPrice:  newPrice,
			})
			if err != nil {
				return err
			}
			fmt.Printf("enqueued subchg %s\n", job.ID)
			return nil
		},
	}
	subchgCmd.Flags().StringVar(&oldPrice, "old", "", "previous price")
	subchgCmd.Flags().StringVar(&newPrice, "new", "", "new price")

	dmCmd := &cobra.Command{
		Use:   "dm",
		Short: "Enqueue a direct message",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()
			job, err := proxy.NewNotifier(store).DM(cmd.Context(), proxy.DMEvent{
				SubjectID: subject,
				Creator:   creator,
				Message:   message,
			})
			if err != nil {
				return err
			}
			fmt.Printf("enqueued dm %s\n", job.ID)
			return nil
		},
	}
	dmCmd.Flags().StringVar(&message, "message", "", "message text")
	_ = dmCmd.MarkFlagRequired("message")

	for _, c := range []*cobra.Command{relayCmd, subchgCmd, dmCmd} {
		c.Flags().StringVar(&subject, "subject", "", "fan subject id")
		c.Flags().StringVar(&creator, "creator", "", "creator name")
		_ = c.MarkFlagRequired("subject")
		_ = c.MarkFlagRequired("creator")
		sendCmd.AddCommand(c)
	}
	return sendCmd
}

func digestCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:       "digest (daily|weekly)",
		Short:     "Enqueue digest triggers, for every known fan by default",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, roster, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()

			subjects := []string{subject}
			if subject == "" {
				subjects = roster.SubjectIDs()
			}
			if len(subjects) == 0 {
				return fmt.Errorf("no fans on the roster yet")
			}
			if err := proxy.NewNotifier(store).Digest(cmd.Context(), args[0], cfg.ProxyChatID, subjects...); err != nil {
				return err
			}
			fmt.Printf("enqueued %s digest for %d fan(s)\n", args[0], len(subjects))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "limit to one fan subject id")
	return cmd
}

func replayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <events.json>",
		Short: "Re-enqueue events recorded in a replay file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openStores()
			if err != nil {
				return err
			}
			defer store.Close()
			adapter := proxy.ReplayAdapter{Path: args[0]}
			return adapter.Run(cmd.Context(), proxy.NewNotifier(store))
		},
	}
}
