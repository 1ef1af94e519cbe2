package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-authsync/eventbus"
	"github.com/goliatone/go-authsync/httpbackend"
	"github.com/goliatone/go-authsync/repository"
	"github.com/spf13/cobra"
)

type watchOptions struct {
	username     string
	passwordEnv  string
	exitOnLogout bool
}

// NewWatchCommand creates the watch command. It restores or opens a session
// and prints every state event until interrupted.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep a session alive and print its state events",
		Long: `Restores the stored credential (or logs in with --username) and runs the
heartbeat and cookie monitor, printing auth events as they happen.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.username, "username", "u", "", "log in as this user when no session is stored")
	cmd.Flags().StringVar(&opts.passwordEnv, "password-env", authsync.EnvPrefix+"PASSWORD", "environment variable holding the password")
	cmd.Flags().BoolVar(&opts.exitOnLogout, "exit-on-logout", false, "stop after the first logout event")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions, opts *watchOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is required (set it in the config or %sBASE_URL)", authsync.EnvPrefix)
	}

	provider := loggerProvider(rootOpts)

	manager, err := repository.Open(cfg.StorePath, cfg.CredentialKey)
	if err != nil {
		return err
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	defer manager.Dispose(context.Background())

	client, err := httpbackend.NewFromConfig(cfg, provider.GetLogger("http"))
	if err != nil {
		return err
	}

	bus := eventbus.New(eventbus.WithLogger(provider.GetLogger("events")))
	defer bus.Close()
	sub := bus.SubscribeChan(32)

	reg := authsync.MapRegistry{
		authsync.BackendKey: client,
		authsync.CookiesKey: client.Cookies(),
		authsync.StoreKey:   manager.Credentials(),
	}
	guard, err := authsync.NewGuardFromRegistry(ctx, reg,
		authsync.WithConfig(cfg),
		authsync.WithPublisher(bus),
		authsync.WithLoggerProvider(provider),
	)
	if err != nil {
		return err
	}
	defer guard.Close()
	// runs first so a full channel cannot hold up Close
	defer sub.Unsubscribe()

	state, err := guard.Start(ctx)
	if err != nil && !authsync.IsNetworkError(err) {
		return err
	}
	if !state.IsAuthenticated() && opts.username != "" {
		if _, err := guard.Login(ctx, opts.username, os.Getenv(opts.passwordEnv)); err != nil {
			return err
		}
	}

	out := newPrinter(cmd, rootOpts)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := out.print(eventRecord(evt), func(w io.Writer) { printEvent(w, evt) }); err != nil {
				return err
			}
			if opts.exitOnLogout && evt.Type == authsync.EventLogout {
				return nil
			}
		}
	}
}

type eventJSON struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	User       string    `json:"user,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RedirectTo string    `json:"redirect_to,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func eventRecord(evt authsync.Event) eventJSON {
	rec := eventJSON{
		ID:         evt.ID,
		Type:       string(evt.Type),
		From:       string(evt.From),
		To:         string(evt.To),
		SessionID:  evt.SessionID,
		Reason:     string(evt.Reason),
		RedirectTo: evt.RedirectTo,
		Message:    evt.Message,
		OccurredAt: evt.OccurredAt,
	}
	if evt.User != nil {
		rec.User = evt.User.Username
	}
	return rec
}

func printEvent(w io.Writer, evt authsync.Event) {
	ts := evt.OccurredAt.Format(time.TimeOnly)
	switch evt.Type {
	case authsync.EventStatusChanged:
		fmt.Fprintf(w, "%s %-20s %s -> %s\n", ts, evt.Type, evt.From, evt.To)
	case authsync.EventLoginSuccess:
		name := ""
		if evt.User != nil {
			name = evt.User.Username
		}
		fmt.Fprintf(w, "%s %-20s user=%s\n", ts, evt.Type, name)
	case authsync.EventLogout:
		fmt.Fprintf(w, "%s %-20s reason=%s redirect=%s\n", ts, evt.Type, evt.Reason, evt.RedirectTo)
	default:
		fmt.Fprintf(w, "%s %-20s %s\n", ts, evt.Type, evt.Message)
	}
}
