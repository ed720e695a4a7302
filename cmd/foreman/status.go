package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/eventbus"
	"github.com/foreman-dev/foreman/internal/singleton"
	"github.com/foreman-dev/foreman/internal/store"
	"github.com/foreman-dev/foreman/internal/tui"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show team/task/roster status",
	Long: `Status prints a one-shot snapshot of every team's tasks and
roster. With --watch, it instead opens a live dashboard that refreshes
as the daemon works.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusWatch, "watch", false, "open a live-refreshing dashboard instead of a one-shot snapshot")
}

func runStatus(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)

	running, pid, err := singleton.Status(home)
	if err != nil {
		return fmt.Errorf("check daemon status: %w", err)
	}
	if running {
		fmt.Printf("daemon running, pid=%d\n", pid)
	} else {
		fmt.Println("daemon not running")
	}

	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	if statusWatch {
		bus := eventbus.New()
		return tui.Run(context.Background(), db, bus)
	}

	return printSnapshot(db)
}

func printSnapshot(db *store.DB) error {
	teams, err := db.ListTeams()
	if err != nil {
		return fmt.Errorf("list teams: %w", err)
	}
	if len(teams) == 0 {
		fmt.Println("no teams yet — see `foreman team add`")
		return nil
	}

	for _, team := range teams {
		roster, err := db.ListRoster(team.ID)
		if err != nil {
			return fmt.Errorf("list roster for %s: %w", team.Name, err)
		}
		tasks, err := db.ListTasks(team.ID, store.TaskFilter{})
		if err != nil {
			return fmt.Errorf("list tasks for %s: %w", team.Name, err)
		}

		fmt.Printf("\n%s (%d roster, %d tasks)\n", team.Name, len(roster), len(tasks))
		for _, task := range tasks {
			dri := task.DRI
			if dri == "" {
				dri = "-"
			}
			fmt.Printf("  #%-4d [%-12s] dri=%-12s %s\n", task.ID, task.Status, dri, task.Title)
		}
	}
	return nil
}
