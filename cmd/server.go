package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/clock"
	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/notify"
	"github.com/example/courtsched/internal/otp"
	"github.com/example/courtsched/internal/pipeline"
	"github.com/example/courtsched/internal/scheduler"
	"github.com/example/courtsched/internal/storage"
	"github.com/example/courtsched/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the booking UI, API and submission scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			store, closeStore, err := openStore(ctx, cfg, migrateUp)
			if err != nil {
				return err
			}
			defer closeStore()

			pipe, err := pipeline.New(cfg.Form.Steps, cfg.Form.Profile, cfg.StepTimeout)
			if err != nil {
				return err
			}

			svc := booking.NewService(booking.Params{
				Store:             store,
				Pipeline:          pipe,
				Codes:             otp.NewManager(cfg.OTPTTL, cfg.OTPIssueInterval),
				CodeSink:          codeSink(cfg),
				StatusSink:        statusSink(cfg),
				Form:              cfg.Form,
				Participants:      cfg.Participants,
				Location:          cfg.Location,
				DefaultSubmitTime: cfg.DefaultSubmitTime,
				MissedPolicy:      cfg.MissedWindowPolicy,
				CancelSecretHash:  cfg.CancelSecretHash,
			})

			sched := scheduler.New(clock.WallClock{}, svc, svc, scheduler.Config{
				MaxAttempts: cfg.MaxAttempts,
				RetryDelay:  cfg.RetryDelay,
			})
			svc.AttachTimers(sched)
			defer sched.Stop()

			if err := svc.Restore(ctx); err != nil {
				return err
			}
			go svc.RunJanitor(ctx, 24*time.Hour)

			ws := web.NewServer(svc, cfg)
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup (postgres driver)")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

func openStore(ctx context.Context, cfg config.Config, migrateUp bool) (booking.Store, func(), error) {
	switch cfg.StorageDriver {
	case "postgres":
		pg, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if migrateUp {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, nil, err
			}
		}
		return pg, pg.Close, nil
	default:
		fs, err := storage.OpenFile(cfg.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs.Close, nil
	}
}

// codeSink fans cancellation codes out to every configured operator channel.
func codeSink(cfg config.Config) notify.Notifier {
	var sinks notify.Multi
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if len(sinks) == 0 {
		log.Printf("server: no code channel configured, codes will be logged only")
		sinks = append(sinks, notify.Console{})
	}
	return sinks
}

// statusSink delivers outcome messages; e-mail honors the booking's own
// notification target.
func statusSink(cfg config.Config) notify.Notifier {
	var sinks notify.Multi
	if cfg.ResendAPIKey != "" {
		sinks = append(sinks, notify.NewEmail(cfg.ResendAPIKey, cfg.ResendFrom, cfg.ConfirmationTo))
	}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.Console{})
	}
	return sinks
}
