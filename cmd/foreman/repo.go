package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/foreman-dev/foreman/internal/store"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage registered repos",
}

var (
	repoAddName     string
	repoAddApproval string
	repoAddTestCmd  string
)

var repoAddCmd = &cobra.Command{
	Use:   "add <team> <path>",
	Short: "Register a repo with a team",
	Args:  cobra.ExactArgs(2),
	RunE:  runRepoAdd,
}

func init() {
	repoAddCmd.Flags().StringVar(&repoAddName, "name", "", "repo's symbolic name (default: last path segment)")
	repoAddCmd.Flags().StringVar(&repoAddApproval, "approval", "manual", "merge approval mode: auto|manual")
	repoAddCmd.Flags().StringVar(&repoAddTestCmd, "test-cmd", "", "shell command run as the repo's pre-merge pipeline")

	repoCmd.AddCommand(repoAddCmd)
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	home := resolveHome(cmd)
	db, err := openStore(home)
	if err != nil {
		return err
	}
	defer db.Close()

	team, err := mustTeam(db, args[0])
	if err != nil {
		return err
	}
	path := args[1]

	name := repoAddName
	if name == "" {
		name = repoDefaultName(path)
	}

	var approval store.Approval
	switch repoAddApproval {
	case "auto":
		approval = store.ApprovalAuto
	case "manual":
		approval = store.ApprovalManual
	default:
		return fmt.Errorf("invalid --approval %q: must be auto or manual", repoAddApproval)
	}

	var pipeline []store.PipelineStep
	if repoAddTestCmd != "" {
		pipeline = []store.PipelineStep{{Name: "test", Command: repoAddTestCmd, TimeoutSeconds: 600}}
	}

	repo, err := db.RegisterRepo(team.ID, name, path, approval, pipeline)
	if err != nil {
		return fmt.Errorf("register repo: %w", err)
	}
	fmt.Printf("repo %q (%s) registered with team %q, approval=%s\n", repo.Name, repo.Path, team.Name, repo.Approval)
	return nil
}
