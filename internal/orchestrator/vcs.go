package orchestrator

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	wferrors "github.com/raveheart1/specflow/internal/errors"
)

// commitRetries bounds re-stage attempts when the tree shifts underneath a
// commit (pre-commit hooks rewriting files, concurrent writers).
const commitRetries = 3

// Committer abstracts the version-control operations the complete-current
// pipeline needs. Tests substitute a stub.
type Committer interface {
	// ChangedFiles lists worktree paths that are modified or untracked.
	ChangedFiles() ([]string, error)
	// CommitFiles stages the given paths and creates a commit. Returns the
	// commit hash.
	CommitFiles(paths []string, message string) (string, error)
}

// gitCommitter implements Committer over a real repository using go-git.
type gitCommitter struct {
	dir string
}

// NewCommitter creates the default go-git backed Committer rooted at dir.
func NewCommitter(dir string) Committer {
	return &gitCommitter{dir: dir}
}

func (g *gitCommitter) open() (*git.Repository, *git.Worktree, error) {
	repo, err := git.PlainOpenWithOptions(g.dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, nil, wferrors.Wrap(err, wferrors.ExternalToolFailure, "opening git repository")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, nil, wferrors.Wrap(err, wferrors.ExternalToolFailure, "opening git worktree")
	}
	return repo, wt, nil
}

// ChangedFiles returns the modified and untracked paths, relative to the
// worktree root, sorted for stable staging order.
func (g *gitCommitter) ChangedFiles() ([]string, error) {
	_, wt, err := g.open()
	if err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, wferrors.Wrap(err, wferrors.ExternalToolFailure, "reading git status")
	}
	var paths []string
	for path, st := range status {
		if st.Worktree == git.Unmodified && st.Staging == git.Unmodified {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// CommitFiles stages paths and commits. When staged files change between the
// add and the commit the attempt is retried with a fresh staging pass, up to
// commitRetries times.
func (g *gitCommitter) CommitFiles(paths []string, message string) (string, error) {
	repo, wt, err := g.open()
	if err != nil {
		return "", err
	}
	author := g.author(repo)

	var lastErr error
	for attempt := 1; attempt <= commitRetries; attempt++ {
		for _, path := range paths {
			if _, err := wt.Add(filepath.ToSlash(path)); err != nil {
				lastErr = wferrors.Wrap(err, wferrors.ExternalToolFailure, fmt.Sprintf("staging %s", path))
				continue
			}
		}
		hash, err := wt.Commit(message, &git.CommitOptions{Author: author})
		if err == nil {
			return hash.String(), nil
		}
		lastErr = err
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	return "", wferrors.Wrap(lastErr, wferrors.ExternalToolFailure,
		fmt.Sprintf("commit failed after %d attempts", commitRetries))
}

// author resolves the commit identity. When git config provides user.name
// and user.email at any scope the configured identity is used (nil lets
// go-git resolve it); otherwise a fixed fallback keeps the commit step from
// failing on machines with no git identity.
func (g *gitCommitter) author(repo *git.Repository) *object.Signature {
	cfg, err := repo.ConfigScoped(gitconfig.SystemScope)
	if err == nil && cfg.User.Name != "" && cfg.User.Email != "" {
		return nil
	}
	return &object.Signature{
		Name:  "specflow",
		Email: "specflow@localhost",
		When:  time.Now(),
	}
}

// commitMessage renders the fixed completion commit template.
func commitMessage(specID, taskID, title, agent string) string {
	msg := fmt.Sprintf("complete(%s/%s): %s", specID, taskID, title)
	if agent != "" {
		msg += fmt.Sprintf("\n\nCompleted by %s via specflow", agent)
	}
	return msg
}
