// Package cli implements azanctl, the operator tool for the azan daemon.
//
// Commands that touch settings, the prayer table or the booked records open
// the database directly. reconcile and stop talk to the running daemon over
// its loopback admin API.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/tazhate/azancall/config"
	"github.com/tazhate/azancall/internal/domain"
	"github.com/tazhate/azancall/internal/export"
	"github.com/tazhate/azancall/internal/httpapi"
	"github.com/tazhate/azancall/internal/scheduler"
	"github.com/tazhate/azancall/internal/service"
	"github.com/tazhate/azancall/internal/storage"
)

const version = "1.0.0"

type app struct {
	configPath string
	fs         afero.Fs
	clock      clockwork.Clock
	http       *http.Client
}

// BuildCLI returns the azanctl root command.
func BuildCLI() *cobra.Command {
	return newApp(afero.NewOsFs(), clockwork.NewRealClock()).buildRoot()
}

func newApp(fs afero.Fs, clock clockwork.Clock) *app {
	return &app{
		fs:    fs,
		clock: clock,
		http:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (a *app) buildRoot() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "azanctl",
		Short:         "Manage the azan alarm daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (defaults to $AZAN_CONFIG_FILE)")

	rootCmd.AddCommand(a.buildSeedCommand())
	rootCmd.AddCommand(a.buildTodayCommand())
	rootCmd.AddCommand(a.buildNextCommand())
	rootCmd.AddCommand(a.buildStatusCommand())
	rootCmd.AddCommand(a.buildToggleCommand("enable", true))
	rootCmd.AddCommand(a.buildToggleCommand("disable", false))
	rootCmd.AddCommand(a.buildOffsetCommand())
	rootCmd.AddCommand(a.buildIqamaCommand())
	rootCmd.AddCommand(a.buildReconcileCommand())
	rootCmd.AddCommand(a.buildStopCommand())
	rootCmd.AddCommand(a.buildExportCommand())

	return rootCmd
}

func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		path = os.Getenv("AZAN_CONFIG_FILE")
	}
	return config.LoadFrom(path, os.LookupEnv)
}

// session is the daemon's storage view, opened without starting any timers.
type session struct {
	cfg      *config.Config
	db       *storage.Storage
	settings *service.SettingsService
	prayers  *service.PrayerTimes
	store    *service.ScheduleStore
	closers  []func() error
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

func (a *app) open(ctx context.Context) (*session, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &session{cfg: cfg, db: db, closers: []func() error{db.Close}}

	var records storage.RecordBackend = db
	if cfg.StoreBackend == "redis" {
		rb, err := storage.NewRedisBackend(ctx, cfg.Redis.Address, cfg.Redis.Username, cfg.Redis.Password, "")
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.closers = append(s.closers, rb.Close)
		records = rb
	}

	s.settings = service.NewSettingsService(db, cfg.SettingsTimeout)
	s.prayers = service.NewPrayerTimes(db, s.settings, a.clock, cfg.Timezone)
	s.store = service.NewScheduleStore(records, a.clock)
	return s, nil
}

func (a *app) buildSeedCommand() *cobra.Command {
	var (
		file  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the prayer time table from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if file == "" {
				file = s.cfg.SeedFile
			}
			if file == "" {
				return errors.New("no seed file: pass --file or set AZAN_SEED_FILE")
			}

			n, err := service.SeedPrayerTimes(ctx, a.fs, file, s.db, force)
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "prayer table already populated, use --force to replace it")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d rows from %s\n", n, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON prayer table")
	cmd.Flags().BoolVar(&force, "force", false, "replace an already populated table")
	return cmd
}

func (a *app) buildTodayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "today",
		Short: "Show today's prayer times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.prayers.Snapshot(ctx)
			if err != nil {
				return err
			}
			if snap == nil || len(snap.Today) == 0 {
				return errors.New("no prayer times for today, run seed first")
			}

			now := a.clock.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "%s\t\t\t\n", snap.Date)
			for _, pi := range snap.Today {
				iqama := "-"
				if pi.Name.Actionable() {
					mins := s.settings.IqamaOffsetMinutes(ctx, pi.Name.Index())
					iqama = pi.At.Add(time.Duration(mins) * time.Minute).Format("15:04")
				}
				mark := ""
				if !pi.At.After(now) {
					mark = "passed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", pi.Name, pi.At.Format("15:04"), iqama, mark)
			}
			return w.Flush()
		},
	}
}

func (a *app) buildNextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Show the next prayer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			next, err := s.prayers.NextUpcoming(ctx)
			if err != nil {
				return err
			}
			if next == nil {
				return errors.New("no upcoming prayer in the table")
			}

			line := fmt.Sprintf("%s at %s", next.Name, next.At.Format("15:04"))
			if next.Name.Actionable() {
				line += fmt.Sprintf(" (iqama %s)", next.Iqama.Format("15:04"))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s, in %s\n", line, next.Remaining.Truncate(time.Minute))
			return nil
		},
	}
}

func (a *app) buildStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the diagnostics report as JSON",
		Long:  "Print settings, booked records and today's table as JSON. Live timer and receiver state is only available from the daemon's /status endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			report := service.NewDiagnostics(service.DiagnosticsDeps{
				Clock:    a.clock,
				Location: s.cfg.Timezone,
				Settings: s.settings,
				Store:    s.store,
				Prayers:  s.prayers,
			}).Collect(ctx)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}

func (a *app) buildToggleCommand(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: strings.ToUpper(use[:1]) + use[1:] + " azan playback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.settings.SetEnabled(ctx, enabled); err != nil {
				return fmt.Errorf("save setting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "azan %sd\n", use)
			a.notify(cmd, s.cfg)
			return nil
		},
	}
}

func (a *app) buildOffsetCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "offset on|off",
		Short:     "Add one hour to every table time",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			on := args[0] == "on"
			if err := s.settings.SetHourOffset(ctx, on); err != nil {
				return fmt.Errorf("save setting: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hour offset %s\n", args[0])
			a.notify(cmd, s.cfg)
			return nil
		},
	}
}

func (a *app) buildIqamaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "iqama <prayer> <minutes>",
		Short: "Set the iqama offset shown for a prayer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, ok := domain.ParsePrayerName(args[0])
			if !ok {
				return fmt.Errorf("unknown prayer %q", args[0])
			}
			minutes, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("minutes must be a number: %w", err)
			}

			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.settings.SetIqamaOffsetMinutes(ctx, name, minutes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s iqama set to %d minutes\n", name, minutes)
			return nil
		},
	}
}

func (a *app) buildReconcileCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Ask the daemon to rebook today's alarms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.post(cmd.Context(), cfg, "/reconcile?reason="+url.QueryEscape(reason)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciliation requested (%s)\n", reason)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", string(scheduler.ReasonManual), "reason reported to the daemon")
	return cmd
}

func (a *app) buildStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the azan that is playing now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := a.post(cmd.Context(), cfg, "/stop"); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "playback stopped")
			return nil
		},
	}
}

func (a *app) buildExportCommand() *cobra.Command {
	var (
		out   string
		today bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write booked alarms as an iCalendar file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var entries []export.Entry
			if today {
				snap, err := s.prayers.Snapshot(ctx)
				if err != nil {
					return err
				}
				if snap != nil {
					entries = export.FromInstants(snap.Today, func(n domain.PrayerName) int {
						return s.settings.IqamaOffsetMinutes(ctx, n.Index())
					})
				}
			} else {
				entries = export.FromEvents(s.store.Records(ctx))
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := a.fs.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			if err := export.WriteCalendar(w, entries, a.clock.Now()); err != nil {
				return err
			}
			if w != cmd.OutOrStdout() {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d events to %s\n", len(entries), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&today, "today", false, "export today's table instead of the booked alarms")
	return cmd
}

// notify asks a running daemon to pick up a settings change. The change is
// already saved, so failures only warn.
func (a *app) notify(cmd *cobra.Command, cfg *config.Config) {
	err := a.post(cmd.Context(), cfg, "/reconcile?reason="+string(scheduler.ReasonSettingsChanged))
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: daemon not notified: %v\n", err)
	}
}

func (a *app) post(ctx context.Context, cfg *config.Config, path string) error {
	if cfg.AdminAddr == "" {
		return errors.New("admin API disabled (AZAN_ADMIN_ADDR is empty)")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+cfg.AdminAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()

	var body httpapi.Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode daemon response: %w", err)
	}
	if !body.Success {
		return fmt.Errorf("daemon: %s", body.Error)
	}
	return nil
}
