package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	authsync "github.com/goliatone/go-authsync"
	"github.com/goliatone/go-authsync/repository"
	"github.com/spf13/cobra"
)

// TokenReport is the inspect output.
type TokenReport struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Issuer    string    `json:"issuer,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Expired   bool      `json:"expired"`
	Source    string    `json:"source"`
}

// NewInspectCommand creates the inspect command. It decodes the claims of a
// token given as argument, or of the stored credential when none is given.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inspect [token]",
		Short:         "Decode a bearer token or the stored credential",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, source, err := inspectSource(cmd, rootOpts, args)
			if err != nil {
				return err
			}
			report, err := buildTokenReport(token, source, time.Now())
			if err != nil {
				return err
			}
			return newPrinter(cmd, rootOpts).print(report, func(w io.Writer) {
				printTokenReport(w, report)
			})
		},
	}
	return cmd
}

func inspectSource(cmd *cobra.Command, rootOpts *RootOptions, args []string) (string, string, error) {
	if len(args) == 1 {
		return args[0], "argument", nil
	}

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return "", "", err
	}
	manager, err := repository.Open(cfg.StorePath, cfg.CredentialKey)
	if err != nil {
		return "", "", err
	}
	defer manager.Dispose(cmd.Context())
	if err := manager.Initialize(cmd.Context()); err != nil {
		return "", "", err
	}

	cred, err := manager.Credentials().Load(cmd.Context())
	if err != nil {
		return "", "", err
	}
	if cred == nil || cred.Token == "" {
		return "", "", errors.New("no stored credential")
	}
	return cred.Token, "store:" + cred.Key, nil
}

func buildTokenReport(token, source string, now time.Time) (TokenReport, error) {
	claims, err := authsync.InspectToken(token)
	if err != nil {
		return TokenReport{}, fmt.Errorf("decode token: %w", err)
	}
	return TokenReport{
		UserID:    claims.UserID(),
		Username:  claims.Username,
		SessionID: claims.SessionID,
		Issuer:    claims.Issuer,
		ExpiresAt: claims.Expires(),
		Expired:   claims.Expired(now),
		Source:    source,
	}, nil
}

func printTokenReport(w io.Writer, r TokenReport) {
	fmt.Fprintf(w, "source:     %s\n", r.Source)
	fmt.Fprintf(w, "user:       %s (%s)\n", r.UserID, r.Username)
	fmt.Fprintf(w, "session:    %s\n", r.SessionID)
	if r.Issuer != "" {
		fmt.Fprintf(w, "issuer:     %s\n", r.Issuer)
	}
	if r.ExpiresAt.IsZero() {
		fmt.Fprintln(w, "expires:    never")
	} else {
		fmt.Fprintf(w, "expires:    %s (expired=%t)\n", r.ExpiresAt.Format(time.RFC3339), r.Expired)
	}
}
