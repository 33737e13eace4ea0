package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvail/frontdesk/internal/alert"
	"github.com/mvail/frontdesk/internal/availability"
	"github.com/mvail/frontdesk/internal/calendar"
	"github.com/mvail/frontdesk/internal/config"
	"github.com/mvail/frontdesk/internal/executor"
	"github.com/mvail/frontdesk/internal/gateway"
	"github.com/mvail/frontdesk/internal/knowledge"
	"github.com/mvail/frontdesk/internal/logging"
	"github.com/mvail/frontdesk/internal/mailwatch"
	"github.com/mvail/frontdesk/internal/messaging"
	"github.com/mvail/frontdesk/internal/nlu"
	"github.com/mvail/frontdesk/internal/patients"
	"github.com/mvail/frontdesk/internal/reminder"
	"github.com/mvail/frontdesk/internal/session"
	"github.com/mvail/frontdesk/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the frontdesk agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating data directories: %w", err)
			}

			level := cfg.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			log = logging.New(nil, level, cfg.Logging.Style)

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dbPath := cfg.Database.Path
			if dbPath == "" {
				dbPath = filepath.Join(paths.Data, "frontdesk.db")
			}
			db, err := store.Open(dbPath, log)
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			defer db.Close()
			log.Info().Str("path", dbPath).Msg("database open")

			kbPath := cfg.Knowledge.Path
			if kbPath == "" {
				kbPath = paths.Knowledge
			}
			kb, err := knowledge.Load(kbPath, log)
			if err != nil {
				return fmt.Errorf("loading clinic knowledge: %w", err)
			}

			cal, err := buildCalendar(ctx, cfg.Calendar)
			if err != nil {
				return err
			}
			classifier := buildClassifier(cfg.NLU)
			messenger := buildMessenger(cfg.Messaging)

			var notifier alert.Notifier = alert.Noop{}
			if cfg.Alert.IRC != nil {
				ircNotifier := alert.NewIRC(*cfg.Alert.IRC, log)
				go func() {
					if err := ircNotifier.Start(ctx); err != nil {
						log.Error().Err(err).Msg("irc alert channel failed")
					}
				}()
				notifier = ircNotifier
			}

			patientStore := store.NewPatientStore(db)
			appts := store.NewAppointmentStore(db)
			reminders := store.NewReminderStore(db)

			exec := executor.New(cal, kb, appts, reminders, store.NewLedgerStore(db),
				cfg.Reminder.ReminderOffsets(), cfg.Reminder.Channel, log)

			hub := gateway.NewHub(log)
			orch := session.New(session.Deps{
				Classifier:   classifier,
				Resolver:     availability.New(cal, cfg.Dialog, log),
				Executor:     exec,
				Patients:     patients.NewService(patientStore, appts, log),
				Appointments: appts,
				Archive:      store.NewSessionArchive(db),
				Knowledge:    kb,
				Notifier:     notifier,
				Events:       hub,
				Dialog:       cfg.Dialog,
				Retry:        cfg.Retry,
				Session:      cfg.Session,
				Log:          log,
			})
			go orch.RunSweeper(ctx, time.Minute)

			sched := reminder.New(reminders, appts, patientStore, exec, messenger, kb,
				time.Duration(cfg.Reminder.ScanSeconds)*time.Second, log)
			go sched.Run(ctx)

			if cfg.Mail != nil {
				watcher := mailwatch.New(*cfg.Mail, sched, log)
				go watcher.Run(ctx)
			}

			return gateway.New(cfg.Gateway, orch, hub, log).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind address")

	return cmd
}

func buildCalendar(ctx context.Context, cfg config.CalendarConfig) (calendar.Calendar, error) {
	switch cfg.Provider {
	case "memory":
		log.Warn().Msg("using in-memory calendar, bookings will not persist")
		return calendar.NewMemory(), nil
	default:
		tokenFile := cfg.TokenFile
		if tokenFile == "" {
			tokenFile = filepath.Join(paths.Credentials, "calendar_token.json")
		}
		cal, err := calendar.NewGoogle(ctx, cfg.CredentialsFile, tokenFile, log)
		if err != nil {
			return nil, fmt.Errorf("connecting to google calendar: %w (run 'frontdesk calendar auth' first)", err)
		}
		return cal, nil
	}
}

func buildClassifier(cfg config.NLUConfig) nlu.Classifier {
	if cfg.Provider == "mock" {
		log.Warn().Msg("using mock intent classifier")
		return nlu.NewMock()
	}
	return nlu.NewGemini(cfg.APIKey, cfg.Model, log)
}

func buildMessenger(cfg config.MessagingConfig) messaging.Messenger {
	if cfg.Provider == "mock" {
		log.Warn().Msg("using mock messenger, reminders will not be delivered")
		return messaging.NewMock()
	}
	return messaging.NewPlivo(cfg.AuthID, cfg.AuthToken, cfg.FromNumber, log)
}
