package markdown

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
)

// sourceGitMetadata resolves the enclosing repository of a source file and
// returns metadata about the last commit touching it. Errors simply mean the
// file is not under version control; callers treat them as a cache miss.
func sourceGitMetadata(path string) (map[string]string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	repo, err := git.PlainOpenWithOptions(filepath.Dir(abs), &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository for %q: %w", path, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	meta := map[string]string{
		"commit": head.Hash().String(),
	}
	if head.Name().IsBranch() {
		meta["branch"] = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return meta, nil
	}
	rel, err := filepath.Rel(wt.Filesystem.Root(), abs)
	if err != nil {
		return meta, nil
	}
	rel = filepath.ToSlash(rel)

	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &rel})
	if err != nil {
		return meta, nil
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		return meta, nil
	}
	meta["lastCommit"] = commit.Hash.String()
	meta["author"] = strings.TrimSpace(commit.Author.Name)
	meta["authoredAt"] = commit.Author.When.UTC().Format(time.RFC3339)

	return meta, nil
}
