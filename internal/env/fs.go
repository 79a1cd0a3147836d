package env

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/CLIAIMONITOR/internal/errkind"
	"github.com/CLIAIMONITOR/internal/tasks"
)

// ReadFile resolves path and returns its content, truncated at
// tasks.MaxOutputBytes per spec.md §4.3's FILE_READ contract.
func (e *Environment) ReadFile(path string) (content string, truncated bool, err error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", false, err
	}
	if err := e.rejectEscapingSymlink(resolved); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, errkind.Wrap(errkind.FileIOError, err)
		}
		return "", false, errkind.Wrap(errkind.FileIOError, err)
	}
	out, trunc := tasks.TruncateOutput(string(data))
	return out, trunc, nil
}

// Exists reports whether path exists after resolution.
func (e *Environment) Exists(path string) bool {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return false
	}
	_, err = os.Stat(resolved)
	return err == nil
}

// WriteFileAtomic writes content to path via a temp file in the same
// directory followed by rename, per spec.md §4.3 step 8.
func (e *Environment) WriteFileAtomic(path, content string) (resolvedPath string, err error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}
	if err := e.rejectEscapingSymlink(resolved); err != nil {
		return "", err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(resolved)+".tmp.*")
	if err != nil {
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	if err := os.Rename(tmpPath, resolved); err != nil {
		os.Remove(tmpPath)
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	return resolved, nil
}

// BackupFile copies path's current content to <path>.backup_<epochMillis>
// and returns the backup path, per spec.md §4.3 step 2.
func (e *Environment) BackupFile(path string, epochMillis int64) (string, error) {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	backupPath := resolved + ".backup_" + strconv.FormatInt(epochMillis, 10)
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", errkind.Wrap(errkind.FileIOError, err)
	}
	return backupPath, nil
}

// CopyFile copies sourcePath to targetPath, failing if the target
// exists unless overwrite is set, per spec.md §4.3 FILE_COPY.
func (e *Environment) CopyFile(sourcePath, targetPath string, overwrite bool) error {
	src, err := e.ResolvePath(sourcePath)
	if err != nil {
		return err
	}
	dst, err := e.ResolvePath(targetPath)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(dst); err == nil {
			return errkind.Newf(errkind.FileIOError, "target %q already exists", targetPath).WithRetriable(false)
		}
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	return nil
}

// DeleteFile removes path after resolving and policy-checking it, per
// spec.md §4.3 FILE_DELETE.
func (e *Environment) DeleteFile(path string) error {
	resolved, err := e.ResolvePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(resolved); err != nil {
		return errkind.Wrap(errkind.FileIOError, err)
	}
	return nil
}

func (e *Environment) rejectEscapingSymlink(resolved string) error {
	info, err := os.Lstat(resolved)
	if err != nil {
		return nil // doesn't exist yet; nothing to escape
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nil
	}
	target, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return errkind.Wrap(errkind.SafetyDenied, err).WithRetriable(false)
	}
	if _, err := e.ResolvePath(target); err != nil {
		return errkind.Newf(errkind.SafetyDenied, "symlink %q escapes allowed roots", resolved).WithRetriable(false)
	}
	return nil
}

// Entry describes one file or directory found by ScanDirectory.
type Entry struct {
	Path    string `json:"path"`
	IsDir   bool   `json:"isDir"`
	SizeB   int64  `json:"sizeBytes"`
	Depth   int    `json:"depth"`
}

// ScanResult is the output of a directory scan.
type ScanResult struct {
	Root    string  `json:"root"`
	Entries []Entry `json:"entries"`
}

// ScanDirectory walks directoryPath to maxDepth (default 3), per
// spec.md §4.3 DIRECTORY_SCAN, grounded on the teacher's
// supervisor/scanner.go filepath.Walk-based repo scan.
func (e *Environment) ScanDirectory(directoryPath string, maxDepth int, includeHidden bool) (*ScanResult, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	resolved, err := e.ResolvePath(directoryPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return nil, errkind.Newf(errkind.FileIOError, "%q is not a directory", directoryPath).WithRetriable(false)
	}

	result := &ScanResult{Root: resolved}
	err = filepath.Walk(resolved, func(p string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil // best-effort scan; skip unreadable entries
		}
		rel, relErr := filepath.Rel(resolved, p)
		if relErr != nil {
			return nil
		}
		if rel == "." {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if depth > maxDepth {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !includeHidden && strings.HasPrefix(filepath.Base(p), ".") {
			if fi.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		result.Entries = append(result.Entries, Entry{
			Path:  rel,
			IsDir: fi.IsDir(),
			SizeB: fi.Size(),
			Depth: depth,
		})
		return nil
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.FileIOError, err)
	}
	sort.Slice(result.Entries, func(i, j int) bool { return result.Entries[i].Path < result.Entries[j].Path })
	return result, nil
}
