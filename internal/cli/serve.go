package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goliatone/go-authsync/internal/devserver"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	addr       string
	users      []string
	signingKey string
	sessionTTL time.Duration
	tokenTTL   time.Duration
	nextPingIn time.Duration
	rotate     bool
}

// NewServeCommand creates the serve command, which runs the in-memory
// development backend.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the in-memory development backend",
		Long: `Serves the login, logout, session validation, heartbeat, token refresh,
session extension and cookie integrity endpoints from memory. Cookie alerts
posted by clients are logged. Users are given as --user name:password.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringArrayVar(&opts.users, "user", []string{"demo:demo-pass"}, "user as name:password (repeatable)")
	cmd.Flags().StringVar(&opts.signingKey, "signing-key", "", "HS256 signing key (random when empty)")
	cmd.Flags().DurationVar(&opts.sessionTTL, "session-ttl", 24*time.Hour, "session lifetime")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", time.Hour, "access token lifetime")
	cmd.Flags().DurationVar(&opts.nextPingIn, "next-ping", 5*time.Minute, "heartbeat interval hint sent to clients")
	cmd.Flags().BoolVar(&opts.rotate, "rotate-tokens", false, "issue a fresh token on every heartbeat")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, rootOpts *RootOptions, opts *serveOptions) error {
	logger := loggerProvider(rootOpts).GetLogger("devserver")

	srv := devserver.New(
		devserver.WithSigningKey([]byte(opts.signingKey)),
		devserver.WithSessionTTL(opts.sessionTTL),
		devserver.WithTokenTTL(opts.tokenTTL),
		devserver.WithNextPingIn(opts.nextPingIn),
		devserver.WithTokenRotation(opts.rotate),
		devserver.WithLogger(logger),
	)

	for _, entry := range opts.users {
		name, password, ok := strings.Cut(entry, ":")
		if !ok || name == "" || password == "" {
			return fmt.Errorf("invalid --user %q: want name:password", entry)
		}
		if _, err := srv.AddUser(name, password, name+"@localhost"); err != nil {
			return err
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Listen(opts.addr)
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "devserver listening on http://%s\n", opts.addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
