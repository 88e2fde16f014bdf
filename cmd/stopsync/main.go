// Command stopsync reconciles the national stop register with OpenStreetMap.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/NERVsystems/stopsync/pkg/config"
	ver "github.com/NERVsystems/stopsync/pkg/version"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
	envFiles   []string
	debug      bool
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "stopsync",
		Short: "Reconcile bus stops in OpenStreetMap with the national stop register",
		Long: `stopsync matches every bus station and bus stop in OpenStreetMap that
carries a ref:nsrs or ref:nsrq tag against the national stop register,
region by region, and writes the resulting edits as a JOSM file, an
audit log and optionally an uploaded changeset.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if opts.debug {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(opts.logger)
			return config.LoadDotEnv(opts.envFiles...)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (default "+config.DefaultFilename+" if present)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), ver.String())
		},
	}
}

// configFile returns the file to load: the flag, else the default name when
// it exists, else none.
func (o *rootOptions) configFile() string {
	if o.configPath != "" {
		return o.configPath
	}
	if _, err := os.Stat(config.DefaultFilename); err == nil {
		return config.DefaultFilename
	}
	return ""
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
