package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/keepsake-dev/keepsake/internal/vcs"
)

// GetFileContent returns path exactly as recorded at ref.
func (s *Store) GetFileContent(ctx context.Context, ref, relPath string) ([]byte, error) {
	rel, err := vcs.NormalizeRelPath(relPath)
	if err != nil {
		return nil, vcs.NewError(vcs.ErrNotFound, "show", relPath, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if ref == vcs.RefCurrent {
		return s.readDisk(rel)
	}
	return s.blobAt(ctx, resolveSentinel(ref), rel)
}

// GetFileContentResilient returns path at ref, or from the newest earlier
// commit that touched path and still had content for it.
func (s *Store) GetFileContentResilient(ctx context.Context, ref, relPath string) ([]byte, error) {
	rel, err := vcs.NormalizeRelPath(relPath)
	if err != nil {
		return nil, vcs.NewError(vcs.ErrNotFound, "show", relPath, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.resilientRead(ctx, ref, rel)
}

// resilientRead is GetFileContentResilient for callers holding s.mu.
func (s *Store) resilientRead(ctx context.Context, ref, rel string) ([]byte, error) {
	if ref == vcs.RefCurrent {
		return s.readDisk(rel)
	}
	ref = resolveSentinel(ref)

	content, err := s.blobAt(ctx, ref, rel)
	if err == nil || !vcs.IsNotFound(err) {
		return content, err
	}

	hash, rerr := s.resolveCommit(ctx, ref)
	if rerr != nil {
		return nil, err
	}

	touching, lerr := s.touchingCommits(ctx, hash, rel)
	if lerr != nil {
		return nil, vcs.NewError(vcs.ErrNotFound, "log", rel, lerr)
	}

	for _, c := range touching {
		if c == hash {
			continue
		}
		content, berr := s.blobAt(ctx, c, rel)
		if berr == nil {
			s.logger.Debug("resilient read fell back", "path", rel, "ref", vcs.ShortRef(hash), "found", vcs.ShortRef(c))
			return content, nil
		}
		if !vcs.IsNotFound(berr) {
			return nil, berr
		}
	}
	return nil, err
}

// touchingCommits lists commits reachable from ref that touched rel,
// newest first.
func (s *Store) touchingCommits(ctx context.Context, ref, rel string) ([]string, error) {
	out, err := s.git(ctx, nil, "log", "--format=%H", ref, "--", rel)
	if err != nil {
		return nil, err
	}
	return vcs.ParseLines(out), nil
}

// GetDiff compares path at oldRef against newRef, or against the live file
// when newRef is empty or "current".
func (s *Store) GetDiff(ctx context.Context, relPath, oldRef, newRef string) (*vcs.DiffResult, error) {
	rel, err := vcs.NormalizeRelPath(relPath)
	if err != nil {
		return nil, vcs.NewError(vcs.ErrNotFound, "diff", relPath, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	oldContent, err := s.resilientRead(ctx, oldRef, rel)
	if err != nil {
		return nil, err
	}

	result := &vcs.DiffResult{
		FileName:   rel,
		OldContent: string(oldContent),
		OldRef:     oldRef,
	}

	switch newRef {
	case "", vcs.RefCurrent:
		content, err := s.readDisk(rel)
		switch {
		case err == nil:
			result.NewContent = string(content)
			result.NewRef = vcs.RefCurrent
		case vcs.IsNotFound(err):
			result.NewRef = vcs.RefDeleted
		default:
			return nil, err
		}
	case vcs.RefDeleted:
		result.NewRef = vcs.RefDeleted
	default:
		content, err := s.resilientRead(ctx, newRef, rel)
		if err != nil {
			return nil, err
		}
		result.NewContent = string(content)
		result.NewRef = newRef
	}

	result.Stats = vcs.ComputeLineStats(result.OldContent, result.NewContent)
	return result, nil
}

// RestoreFile writes path as recorded at ref back into the work tree and
// commits the restoration.
func (s *Store) RestoreFile(ctx context.Context, relPath, ref string) (string, error) {
	rel, err := vcs.NormalizeRelPath(relPath)
	if err != nil {
		return "", vcs.NewError(vcs.ErrNotFound, "restore", relPath, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.resilientRead(ctx, ref, rel)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.workTree, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", vcs.NewError(vcs.ErrIO, "restore", rel, err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		return "", vcs.NewError(vcs.ErrIO, "restore", rel, err)
	}

	message := fmt.Sprintf("Restored %s from %s at %s",
		path.Base(rel), vcs.ShortRef(ref), s.clock.Now().Format(time.RFC3339))
	hash, _, err := s.commitPaths(ctx, []string{rel}, message)
	return hash, err
}

// blobAt reads rel from the tree of ref.
func (s *Store) blobAt(ctx context.Context, ref, rel string) ([]byte, error) {
	if !s.exists() {
		return nil, vcs.NewError(vcs.ErrNotFound, "show", rel, fmt.Errorf("no history at %s", s.gitDir))
	}
	out, err := s.git(ctx, nil, "cat-file", "blob", ref+":"+rel)
	if err != nil {
		if errors.Is(err, vcs.ErrVCSNotAvailable) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, vcs.NewError(vcs.ErrNotFound, "show", rel, err)
	}
	return out, nil
}

// resolveCommit expands ref to a full commit hash.
func (s *Store) resolveCommit(ctx context.Context, ref string) (string, error) {
	out, err := s.git(ctx, nil, "rev-parse", "--verify", "-q", ref+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// readDisk reads the live copy of rel.
func (s *Store) readDisk(rel string) ([]byte, error) {
	content, err := os.ReadFile(filepath.Join(s.workTree, filepath.FromSlash(rel)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vcs.NewError(vcs.ErrNotFound, "read", rel, err)
		}
		return nil, vcs.NewError(vcs.ErrIO, "read", rel, err)
	}
	return content, nil
}

// resolveSentinel maps "deleted" and the empty ref to HEAD.
func resolveSentinel(ref string) string {
	if ref == "" || ref == vcs.RefDeleted {
		return "HEAD"
	}
	return ref
}
