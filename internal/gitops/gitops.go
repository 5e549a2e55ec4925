// Package gitops is the source-control collaborator: worktrees, commits,
// pushes, and pull requests on behalf of the pipeline.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoChanges is returned when a commit found nothing to record.
var ErrNoChanges = errors.New("no changes to commit")

// CommitResult reports the outcome of a commit operation.
type CommitResult struct {
	Committed bool
	Hash      string
}

// PullRequest identifies a created pull request.
type PullRequest struct {
	Number int
	URL    string
}

// SourceControl is what the executors need from git. The production
// implementation lives below; tests substitute fakes.
type SourceControl interface {
	CreateWorktree(ctx context.Context, repoDir, path, branch string) error
	RemoveWorktree(ctx context.Context, repoDir, path string) error
	CommitAll(dir, message string) (CommitResult, error)
	CommitPaths(dir string, paths []string, message string) (CommitResult, error)
	CurrentBranch(dir string) (string, error)
	HasCommitsAhead(dir, base string) (bool, error)
	ChangedFiles(dir, base string) ([]string, error)
	Push(ctx context.Context, dir, branch string) error
}

// Git implements SourceControl with go-git for repository operations and
// the git CLI for worktree management and pushes, which go-git does not
// cover for all transport and auth setups.
type Git struct {
	AuthorName  string
	AuthorEmail string
}

// NewGit returns the production SourceControl.
func NewGit() *Git {
	return &Git{AuthorName: "drover", AuthorEmail: "drover@jywlabs.com"}
}

// CreateWorktree adds a new worktree at path on a new branch.
func (g *Git) CreateWorktree(ctx context.Context, repoDir, path, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-b", branch, path)
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("create worktree %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RemoveWorktree removes a worktree. Best-effort cleanup callers may
// ignore the error; it is still reported for operator visibility.
func (g *Git) RemoveWorktree(ctx context.Context, repoDir, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = repoDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("remove worktree %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CommitAll stages every change in the worktree and commits. A clean tree
// is not an error: the result reports Committed=false.
func (g *Git) CommitAll(dir, message string) (CommitResult, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return CommitResult{}, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitResult{}, fmt.Errorf("get worktree: %w", err)
	}
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return CommitResult{}, fmt.Errorf("stage changes: %w", err)
	}
	return g.commitStaged(wt, message)
}

// CommitPaths stages only the given paths and commits. Paths that do not
// exist or have no changes are skipped; unrelated untracked files are
// never swept in.
func (g *Git) CommitPaths(dir string, paths []string, message string) (CommitResult, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return CommitResult{}, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitResult{}, fmt.Errorf("get worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			// Missing allow-listed artifacts are normal; the commit below
			// decides whether anything was actually staged.
			continue
		}
	}
	return g.commitStaged(wt, message)
}

func (g *Git) commitStaged(wt *gogit.Worktree, message string) (CommitResult, error) {
	status, err := wt.Status()
	if err != nil {
		return CommitResult{}, fmt.Errorf("get status: %w", err)
	}
	staged := false
	for _, s := range status {
		if s.Staging != gogit.Unmodified && s.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return CommitResult{Committed: false}, nil
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  g.AuthorName,
			Email: g.AuthorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}
	return CommitResult{Committed: true, Hash: hash.String()}, nil
}

// CurrentBranch returns the short name of the checked-out branch.
func (g *Git) CurrentBranch(dir string) (string, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	return head.Name().Short(), nil
}

// HasCommitsAhead reports whether HEAD carries commits not reachable from
// the base branch.
func (g *Git) HasCommitsAhead(dir, base string) (bool, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return false, fmt.Errorf("open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("read HEAD: %w", err)
	}
	baseRef, err := repo.Reference(plumbing.NewBranchReferenceName(base), true)
	if err != nil {
		return false, fmt.Errorf("resolve base branch %s: %w", base, err)
	}
	if head.Hash() == baseRef.Hash() {
		return false, nil
	}

	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return false, fmt.Errorf("read HEAD commit: %w", err)
	}
	baseCommit, err := repo.CommitObject(baseRef.Hash())
	if err != nil {
		return false, fmt.Errorf("read base commit: %w", err)
	}
	// HEAD strictly behind base means nothing to merge.
	behind, err := headCommit.IsAncestor(baseCommit)
	if err != nil {
		return false, fmt.Errorf("compare with base: %w", err)
	}
	return !behind, nil
}

// ChangedFiles lists the paths HEAD changed relative to the base branch.
func (g *Git) ChangedFiles(dir, base string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", base+"...HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("diff against %s: %w", base, err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Push pushes the branch to origin.
func (g *Git) Push(ctx context.Context, dir, branch string) error {
	cmd := exec.CommandContext(ctx, "git", "push", "-u", "origin", branch)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("push %s: %w: %s", branch, err, strings.TrimSpace(string(out)))
	}
	return nil
}
