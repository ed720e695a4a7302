package merge

import (
	"fmt"
	"path/filepath"
)

// AgentWorktreePath is where a task's live, agent-editable worktree for
// repo lives: <baseDir>/<team>/task-<id>/<repo>.
// Exported so internal/dispatcher can point a turn's CWD/AddDirs at the
// same checkout the merge pipeline rebases underneath the agent.
func AgentWorktreePath(baseDir, teamName string, taskID int64, repoName string) string {
	return filepath.Join(baseDir, teamName, fmt.Sprintf("task-%d", taskID), repoName)
}

// rebaseWorktreePath is the disposable, detached-HEAD worktree used to
// rebase a task branch without disturbing the agent's live checkout.
func rebaseWorktreePath(baseDir, teamName string, taskID int64, repoName string) string {
	return filepath.Join(baseDir, teamName, fmt.Sprintf("task-%d", taskID), repoName+"-rebase")
}
