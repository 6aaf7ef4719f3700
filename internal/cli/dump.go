package cli

import (
	"github.com/spf13/cobra"

	"github.com/hashbrowncipher/happycache"
	"github.com/hashbrowncipher/happycache/internal/logging"
	"github.com/hashbrowncipher/happycache/internal/sched"
)

func newDumpCmd() *cobra.Command {
	var (
		mapPath string
		workers int
		level   int
	)

	cmd := &cobra.Command{
		Use:   "dump [path]",
		Short: "Write the residency map for a directory tree",
		Long:  "Walk the given directory tree (default \".\"), record which pages of each regular file are resident in the page cache, and write the compressed map.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := loadSettings()

			opts := happycache.DumpOptions{
				Root:      ".",
				MapPath:   settings.Dump.Map,
				Workers:   settings.DumpWorkers(),
				GzipLevel: settings.Dump.Level,
			}
			if len(args) > 0 {
				opts.Root = args[0]
			}
			if cmd.Flags().Changed("map") || opts.MapPath == "" {
				opts.MapPath = mapPath
			}
			if cmd.Flags().Changed("workers") {
				opts.Workers = workers
			}
			if cmd.Flags().Changed("level") {
				opts.GzipLevel = level
			}

			sched.Relax(nil)

			snap, err := happycache.Dump(cmd.Context(), opts)
			if err != nil {
				return err
			}

			logging.Info("dump complete",
				"map", opts.MapPath,
				"dirs", snap.DirsVisited,
				"files", snap.FilesScanned,
				"skipped", snap.FilesSkipped,
				"resident_pages", snap.PagesResident,
				"groups", snap.GroupsWritten,
				"duration", snap.Duration)
			return nil
		},
	}

	cmd.Flags().StringVarP(&mapPath, "map", "o", happycache.DefaultMapName, "map file to write")
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default CPUs*8)")
	cmd.Flags().IntVar(&level, "level", 0, "gzip level (default 1)")
	return cmd
}
