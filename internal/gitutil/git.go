// Package gitutil drives the local git installation. Commands run with
// auto-maintenance disabled so frequent automation commits stay
// deterministic and never spawn background helpers.
package gitutil

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func runGit(dir string, args ...string) (string, string, error) {
	base := []string{
		"-C", dir,
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	cmd := exec.Command("git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

func IsRepo(dir string) bool {
	out, _, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}

func HeadSHA(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func IsClean(dir string) (bool, error) {
	out, _, err := runGit(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) == "", nil
}

func CurrentBranch(dir string) (string, error) {
	out, _, err := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasRemote reports whether any remote is configured. Without a remote
// neither pushing nor opening a PR is possible, whatever the caller asked.
func HasRemote(dir string) bool {
	out, _, err := runGit(dir, "remote")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) != ""
}

// DefaultBranch resolves the repository's default branch: the remote HEAD
// when a remote exists, otherwise the first of main/master that resolves.
func DefaultBranch(dir string) (string, error) {
	if out, _, err := runGit(dir, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		ref := strings.TrimSpace(out)
		if name := strings.TrimPrefix(ref, "refs/remotes/origin/"); name != ref && name != "" {
			return name, nil
		}
	}
	for _, candidate := range []string{"main", "master"} {
		if _, _, err := runGit(dir, "rev-parse", "--verify", "refs/heads/"+candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("cannot determine default branch in %s", dir)
}

// VerifyMerge is the authoritative post-merge check: the feature branch is
// merged iff its tip is an ancestor of the base branch. A merge command
// returning zero is never taken as proof on its own.
func VerifyMerge(dir, featureBranch, baseBranch string) (bool, error) {
	_, _, err := runGit(dir, "merge-base", "--is-ancestor", featureBranch, baseBranch)
	if err == nil {
		return true, nil
	}
	var cmdErr *CommandError
	if ok := asCommandError(err, &cmdErr); ok {
		if exitErr, isExit := cmdErr.Err.(*exec.ExitError); isExit && exitErr.ExitCode() == 1 {
			return false, nil
		}
	}
	return false, err
}

func asCommandError(err error, target **CommandError) bool {
	ce, ok := err.(*CommandError)
	if ok {
		*target = ce
	}
	return ok
}

// DiffSummary describes the working branch relative to a base branch, used
// as the merge gate's human-review payload.
type DiffSummary struct {
	BaseBranch   string `json:"baseBranch"`
	FilesChanged int    `json:"filesChanged"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	Commits      int    `json:"commits"`
}

// GetDiffSummary computes files changed, additions, deletions and commit
// count of HEAD against baseBranch.
func GetDiffSummary(dir, baseBranch string) (DiffSummary, error) {
	sum := DiffSummary{BaseBranch: baseBranch}

	out, _, err := runGit(dir, "diff", "--numstat", baseBranch+"...HEAD")
	if err != nil {
		return sum, err
	}
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		sum.FilesChanged++
		// Binary files report "-"; count them as changed with no line delta.
		if add, err := strconv.Atoi(fields[0]); err == nil {
			sum.Additions += add
		}
		if del, err := strconv.Atoi(fields[1]); err == nil {
			sum.Deletions += del
		}
	}

	out, _, err = runGit(dir, "rev-list", "--count", baseBranch+"..HEAD")
	if err != nil {
		return sum, err
	}
	if n, err := strconv.Atoi(strings.TrimSpace(out)); err == nil {
		sum.Commits = n
	}
	return sum, nil
}

func CreateBranchAt(dir, branch, baseSHA string) error {
	_, _, err := runGit(dir, "branch", "--force", branch, baseSHA)
	return err
}

func CheckoutBranch(dir, branch string) error {
	_, _, err := runGit(dir, "switch", branch)
	return err
}

func PushBranch(dir, remote, branch string) error {
	_, _, err := runGit(dir, "push", remote, branch)
	return err
}

// FetchBranch updates the local view of a remote branch; used before
// verifying a PR merge that happened on the hosting platform.
func FetchBranch(dir, remote, branch string) error {
	_, _, err := runGit(dir, "fetch", remote, branch+":"+branch)
	if err != nil {
		// The branch may be checked out; fall back to a plain fetch.
		_, _, err = runGit(dir, "fetch", remote, branch)
	}
	return err
}

func AddWorktree(repoDir, worktreeDir, branch string) error {
	_, _, err := runGit(repoDir, "worktree", "add", worktreeDir, branch)
	return err
}

func RemoveWorktree(repoDir, worktreeDir string) error {
	_, _, err := runGit(repoDir, "worktree", "remove", "--force", worktreeDir)
	return err
}

// CommitAll stages everything and commits. Falls back to an explicit
// automation identity when the environment has none configured.
func CommitAll(dir, message string) (string, error) {
	if _, _, err := runGit(dir, "add", "-A"); err != nil {
		return "", err
	}
	_, _, err := runGit(dir, "commit", "--allow-empty", "-m", message)
	if err != nil {
		if strings.Contains(err.Error(), "Author identity unknown") ||
			strings.Contains(err.Error(), "Please tell me who you are") ||
			strings.Contains(err.Error(), "unable to auto-detect email address") {
			_, _, err = runGit(
				dir,
				"-c", "user.name=stagehand",
				"-c", "user.email=stagehand@local",
				"commit", "--allow-empty", "-m", message,
			)
		}
		if err != nil {
			return "", err
		}
	}
	return HeadSHA(dir)
}
