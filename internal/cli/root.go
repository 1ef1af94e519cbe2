package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	authsync "github.com/goliatone/go-authsync"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Config   string
	EnvFiles []string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the authsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "authsync",
		Short: "authsync - session liveness for blog clients",
		Long:  "Keeps a client session alive and consistent with the blog backend: heartbeat, cookie integrity and recovery.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to a TOML config file")
	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files with AUTHSYNC_* overrides")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))

	return cmd
}

// loadConfig layers the config file, dotenv files and process env, then
// validates the result.
func loadConfig(opts *RootOptions) (authsync.Config, error) {
	cfg, err := authsync.LoadConfig(opts.Config)
	if err != nil {
		return cfg, err
	}
	env, err := authsync.EnvFromFiles(opts.EnvFiles...)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv(env)
	return cfg, cfg.Validate()
}

// loggerProvider builds the glog tree every command logs through. --verbose
// lowers the level to debug.
func loggerProvider(opts *RootOptions) authsync.LoggerProvider {
	return authsync.NewGlogProvider("authsync", opts.Verbose)
}

// printer writes one record per call in the selected format.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(cmd *cobra.Command, opts *RootOptions) *printer {
	return &printer{format: opts.Format, w: cmd.OutOrStdout()}
}

func (p *printer) print(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.w).Encode(v)
	}
	text(p.w)
	return nil
}
