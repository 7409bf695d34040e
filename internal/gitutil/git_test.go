package gitutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test",
			"GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test",
			"GIT_COMMITTER_EMAIL=test@test",
		)
		out, err := cmd.CombinedOutput()
		if err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}
	run("init", "-b", "main")
	run("config", "user.name", "test")
	run("config", "user.email", "test@test")
	if err := os.WriteFile(filepath.Join(dir, "initial.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	run("add", "-A")
	run("commit", "-m", "initial")
	return dir
}

func writeAndCommit(t *testing.T, dir, name, content, msg string) string {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	sha, err := CommitAll(dir, msg)
	if err != nil {
		t.Fatal(err)
	}
	return sha
}

func TestIsRepoAndClean(t *testing.T) {
	dir := initTestRepo(t)
	if !IsRepo(dir) {
		t.Fatal("expected a repo")
	}
	if IsRepo(t.TempDir()) {
		t.Fatal("empty dir must not be a repo")
	}
	clean, err := IsClean(dir)
	if err != nil || !clean {
		t.Fatalf("clean=%v err=%v", clean, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	clean, err = IsClean(dir)
	if err != nil || clean {
		t.Fatalf("clean=%v err=%v", clean, err)
	}
}

func TestHasRemote(t *testing.T) {
	dir := initTestRepo(t)
	if HasRemote(dir) {
		t.Fatal("fresh repo has no remote")
	}
	if _, _, err := runGit(dir, "remote", "add", "origin", dir); err != nil {
		t.Fatal(err)
	}
	if !HasRemote(dir) {
		t.Fatal("remote not detected")
	}
}

func TestDefaultBranchLocal(t *testing.T) {
	dir := initTestRepo(t)
	branch, err := DefaultBranch(dir)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "main" {
		t.Fatalf("branch = %q", branch)
	}
}

func TestVerifyMergeAncestry(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := CreateBranchAt(dir, "feature/x", baseSHA); err != nil {
		t.Fatal(err)
	}
	if err := CheckoutBranch(dir, "feature/x"); err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, dir, "feat.txt", "feature work", "feature commit")

	merged, err := VerifyMerge(dir, "feature/x", "main")
	if err != nil {
		t.Fatal(err)
	}
	if merged {
		t.Fatal("unmerged branch reported as merged")
	}

	if err := CheckoutBranch(dir, "main"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runGit(dir, "merge", "--no-ff", "-m", "merge feature/x", "feature/x"); err != nil {
		t.Fatal(err)
	}
	merged, err = VerifyMerge(dir, "feature/x", "main")
	if err != nil {
		t.Fatal(err)
	}
	if !merged {
		t.Fatal("merged branch reported as unmerged")
	}
}

func TestGetDiffSummary(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := CreateBranchAt(dir, "feature/y", baseSHA); err != nil {
		t.Fatal(err)
	}
	if err := CheckoutBranch(dir, "feature/y"); err != nil {
		t.Fatal(err)
	}
	writeAndCommit(t, dir, "a.txt", "one\ntwo\n", "add a")
	writeAndCommit(t, dir, "b.txt", "three\n", "add b")

	sum, err := GetDiffSummary(dir, "main")
	if err != nil {
		t.Fatal(err)
	}
	if sum.FilesChanged != 2 {
		t.Fatalf("files changed = %d", sum.FilesChanged)
	}
	if sum.Additions != 3 {
		t.Fatalf("additions = %d", sum.Additions)
	}
	if sum.Deletions != 0 {
		t.Fatalf("deletions = %d", sum.Deletions)
	}
	if sum.Commits != 2 {
		t.Fatalf("commits = %d", sum.Commits)
	}
}

func TestWorktreeAddRemove(t *testing.T) {
	dir := initTestRepo(t)
	baseSHA, err := HeadSHA(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := CreateBranchAt(dir, "wt/branch", baseSHA); err != nil {
		t.Fatal(err)
	}
	wt := filepath.Join(t.TempDir(), "worktree")
	if err := AddWorktree(dir, wt, "wt/branch"); err != nil {
		t.Fatal(err)
	}
	if !IsRepo(wt) {
		t.Fatal("worktree is not a repo")
	}
	if err := RemoveWorktree(dir, wt); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Fatalf("worktree still present: %v", err)
	}
}

func TestCommitAllReturnsSHA(t *testing.T) {
	dir := initTestRepo(t)
	sha := writeAndCommit(t, dir, "c.txt", "content", "add c")
	if len(sha) != 40 {
		t.Fatalf("sha = %q", sha)
	}
	head, err := HeadSHA(dir)
	if err != nil || head != sha {
		t.Fatalf("head=%q sha=%q err=%v", head, sha, err)
	}
}
