// Package commands – status.go reports on local state without starting the
// daemon.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/marubot/maru/pkg/maru/scheduler"
)

// newStatusCmd creates the `maru status` command.
func newStatusCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local state: sessions, jobs, reminders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			fmt.Printf("maru %s\n", version)
			fmt.Printf("data_dir: %s\n", cfg.DataDir)

			sessionFiles, _ := filepath.Glob(filepath.Join(cfg.DataDir, "sessions", "*.jsonl"))
			fmt.Printf("sessions on disk: %d\n", len(sessionFiles))

			if jobStore, err := scheduler.NewFileJobStorage(filepath.Join(cfg.DataDir, "cron", "jobs.json")); err == nil {
				if jobs, err := jobStore.LoadAll(); err == nil {
					enabled := 0
					for _, job := range jobs {
						if job.Enabled {
							enabled++
						}
					}
					fmt.Printf("scheduled jobs: %d (%d enabled)\n", len(jobs), enabled)
				}
			}
			if remStore, err := scheduler.NewFileReminderStorage(filepath.Join(cfg.DataDir, "reminders.json")); err == nil {
				if reminders, err := remStore.LoadAll(); err == nil {
					fmt.Printf("pending reminders: %d\n", len(reminders))
				}
			}

			if info, err := os.Stat(filepath.Join(cfg.DataDir, "MEMORY.md")); err == nil {
				fmt.Printf("memory file: %d bytes, updated %s\n",
					info.Size(), info.ModTime().Format(time.RFC3339))
			} else {
				fmt.Println("memory file: none")
			}
			return nil
		},
	}
}
