package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hashbrowncipher/happycache"
	"github.com/hashbrowncipher/happycache/internal/logging"
	"github.com/hashbrowncipher/happycache/internal/sched"
)

func newLoadCmd() *cobra.Command {
	var (
		mapPath  string
		workers  int
		maxPages int64
		ioUring  bool
	)

	cmd := &cobra.Command{
		Use:   "load [threads] [mapfile]",
		Short: "Warm the page cache from a residency map",
		Long:  "Read a residency map (default \".happycache.gz\") and ask the kernel to pull the recorded pages back into the page cache.",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := loadSettings()

			opts := happycache.LoadOptions{
				MapPath:  settings.Load.Map,
				Workers:  settings.LoadWorkers(),
				MaxPages: settings.Load.MaxPages,
				IOUring:  settings.Load.IOUring,
			}
			if cmd.Flags().Changed("map") || opts.MapPath == "" {
				opts.MapPath = mapPath
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}
			if cmd.Flags().Changed("max-pages") {
				opts.MaxPages = maxPages
			}
			if cmd.Flags().Changed("uring") {
				opts.IOUring = ioUring
			}

			if len(args) > 0 {
				threads, err := strconv.Atoi(args[0])
				if err != nil || threads <= 0 {
					return fmt.Errorf("invalid thread count %q", args[0])
				}
				opts.Workers = threads
			}
			if len(args) > 1 {
				opts.MapPath = args[1]
			}

			sched.Relax(nil)

			snap, err := happycache.Load(cmd.Context(), opts)
			if err != nil {
				return err
			}

			logging.Info("load complete",
				"map", opts.MapPath,
				"files", snap.FilesOpened,
				"file_errors", snap.FileErrors,
				"tasks", snap.TasksDispatched,
				"hinted_pages", snap.PagesHinted,
				"warm_pages", snap.PagesWarm,
				"duration", snap.Duration)
			return nil
		},
	}

	cmd.Flags().StringVar(&mapPath, "map", happycache.DefaultMapName, "map file to read")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default CPUs*8)")
	cmd.Flags().Int64Var(&maxPages, "max-pages", 0, "cap on dispatched pages (default RAM in pages)")
	cmd.Flags().BoolVar(&ioUring, "uring", false, "batch hints through io_uring (requires -tags giouring build)")
	return cmd
}
