package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dispatch/internal/config"
	"dispatch/internal/control"
	"dispatch/internal/eventfeed"
	"dispatch/internal/journal"
	"dispatch/internal/keymap"
)

const exampleKeymap = `{
  "keybinds": [
    {"keys": ["Ctrl", "Shift", "A"], "script": "notepad.exe"}
  ]
}
`

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "dispatch",
		Short: "Global hotkey daemon",
		Long: `dispatch polls the keyboard and launches the command bound to each
pressed chord. Bindings live in a JSON keymap that is reloaded on save.

Examples:
  dispatch                      # Run the daemon in the foreground
  dispatch init                 # Write default settings and an example keymap
  dispatch check                # Validate the keymap and list its bindings
  dispatch stop                 # Ask a running daemon to shut down
  dispatch history -n 20        # Show recent launches (needs journal_path)
  dispatch tail                 # Follow the live event feed (needs events_addr)`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return NewApp(configPath).Run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Settings file")

	root.AddCommand(
		newRunCommand(&configPath),
		newStopCommand(&configPath),
		newCheckCommand(&configPath),
		newHistoryCommand(&configPath),
		newTailCommand(&configPath),
		newInitCommand(&configPath),
	)
	return root
}

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return NewApp(*configPath).Run(cmd.Context())
		},
	}
}

func newStopCommand(configPath *string) *cobra.Command {
	var addr, pipe string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadSettings(*configPath)
			if pipe != "" {
				if err := control.SendPipe(pipe, control.ShutdownCommand); err != nil {
					return describeSendError(pipe, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
				return nil
			}
			if addr == "" {
				addr = cfg.ControlAddr
			}
			if err := control.SendTCP(cmd.Context(), addr, control.ShutdownCommand); err != nil {
				return describeSendError(addr, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Control address (default from settings)")
	cmd.Flags().StringVar(&pipe, "pipe", "", `Windows named pipe, e.g. \\.\pipe\dispatch-<user>`)
	return cmd
}

func describeSendError(target string, err error) error {
	if control.IsConnectionError(err) {
		return fmt.Errorf("no daemon listening on %s", target)
	}
	return err
}

func newCheckCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check [keymap]",
		Short: "Validate a keymap file and list its bindings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := loadSettings(*configPath).KeymapPath
			if len(args) > 0 {
				path = args[0]
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			km, err := keymap.Parse(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return printBindings(cmd.OutOrStdout(), path, km)
		},
	}
}

func printBindings(w io.Writer, path string, km keymap.Keymap) error {
	bindings := km.Bindings()
	if _, err := fmt.Fprintf(w, "%s: %d binding(s)\n", path, len(bindings)); err != nil {
		return err
	}
	for _, b := range bindings {
		if _, err := fmt.Fprintf(w, "  %-24s %s\n", b.Chord, b.Command); err != nil {
			return err
		}
	}
	return nil
}

func newHistoryCommand(configPath *string) *cobra.Command {
	var limit int
	var journalPath string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launches from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if journalPath == "" {
				journalPath = loadSettings(*configPath).JournalPath
			}
			if journalPath == "" {
				return errors.New("journal_path is not configured")
			}
			if _, err := os.Stat(journalPath); err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			j, err := journal.Open(journalPath)
			if err != nil {
				return err
			}
			defer j.Close()

			launches, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printLaunches(cmd.OutOrStdout(), launches)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of launches to show")
	cmd.Flags().StringVar(&journalPath, "journal", "", "Journal database (default from settings)")
	return cmd
}

func printLaunches(w io.Writer, launches []journal.Launch) error {
	if len(launches) == 0 {
		_, err := fmt.Fprintln(w, "no launches recorded")
		return err
	}
	for _, l := range launches {
		if _, err := fmt.Fprintf(w, "%s  %-16s %-10s %s\n",
			l.StartedAt.Local().Format(time.DateTime), l.Chord, launchStatus(l), l.Command); err != nil {
			return err
		}
	}
	return nil
}

func launchStatus(l journal.Launch) string {
	switch {
	case l.Error != "":
		return "failed"
	case l.ExitCode != nil:
		return fmt.Sprintf("exit=%d", *l.ExitCode)
	}
	return fmt.Sprintf("pid=%d", l.PID)
}

func newTailCommand(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the live event feed of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = loadSettings(*configPath).EventsAddr
			}
			if addr == "" {
				return errors.New("events_addr is not configured")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return followFeed(ctx, cmd.OutOrStdout(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Event feed address (default from settings)")
	return cmd
}

// followFeed prints events until ctx is done or the daemon goes away.
func followFeed(ctx context.Context, w io.Writer, addr string) error {
	client, err := eventfeed.Dial(ctx, addr)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()
	defer client.Close()

	for {
		ev, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("event feed closed: %w", err)
		}
		if _, err := fmt.Fprintln(w, formatEvent(ev)); err != nil {
			return err
		}
	}
}

func formatEvent(ev eventfeed.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", ev.Time.Local().Format(time.TimeOnly), ev.Level, ev.Message)
	for _, k := range slices.Sorted(maps.Keys(ev.Attrs)) {
		fmt.Fprintf(&b, " %s=%s", k, ev.Attrs[k])
	}
	return b.String()
}

func newInitCommand(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default settings and an example keymap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeDefaults(cmd.OutOrStdout(), *configPath, force)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	return cmd
}

func writeDefaults(w io.Writer, configPath string, force bool) error {
	if !force && fileExists(configPath) {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}
	// Relative paths are written next to the settings file.
	cfg := config.DefaultConfig()
	dir := filepath.Dir(configPath)
	cfg.KeymapPath = filepath.Join(dir, cfg.KeymapPath)
	cfg.LogPath = filepath.Join(dir, cfg.LogPath)
	cfg, err := config.Save(configPath, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", configPath)

	if fileExists(cfg.KeymapPath) && !force {
		fmt.Fprintf(w, "kept existing %s\n", cfg.KeymapPath)
		return nil
	}
	if err := config.AtomicWrite(cfg.KeymapPath, []byte(exampleKeymap)); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s\n", cfg.KeymapPath)
	return nil
}

// loadSettings reads settings for client commands; problems are already
// logged by config.Load and defaults are used.
func loadSettings(path string) config.Config {
	cfg, _ := config.Load(path)
	return cfg
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
