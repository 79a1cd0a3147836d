package executor

import (
	"strconv"
	"strings"
	"time"

	"github.com/CLIAIMONITOR/internal/tasks"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (x *Executor) runFileRead(t *tasks.Task) (*tasks.Result, error) {
	path := stringParam(t.Parameters, "filePath")
	content, truncated, err := x.env.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{}
	if truncated {
		meta["truncated"] = "true"
	}
	return &tasks.Result{Success: true, Output: content, Metadata: meta}, nil
}

// runFileWrite implements spec.md §4.3's FILE_WRITE algorithm.
func (x *Executor) runFileWrite(t *tasks.Task) (*tasks.Result, error) {
	path := stringParam(t.Parameters, "filePath")
	newContent := stringParam(t.Parameters, "content")
	preserveContext := boolParam(t.Parameters, "preserveContext", true)
	modeOverride := stringParam(t.Parameters, "operationMode")

	resolved, err := x.env.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	existed := x.env.Exists(resolved)
	meta := map[string]string{}

	var originalContent string
	if existed && preserveContext {
		originalContent, _, err = x.env.ReadFile(resolved)
		if err != nil {
			return nil, err
		}
		backupPath, err := x.env.BackupFile(resolved, nowMillis())
		if err != nil {
			return nil, err
		}
		meta["backupPath"] = backupPath
	}

	mode := resolveOperationMode(modeOverride, existed, t.Description)

	var finalContent string
	switch mode {
	case "CREATE":
		finalContent = newContent
	case "REPLACE":
		finalContent = newContent
	case "APPEND":
		finalContent = appendContent(originalContent, newContent)
	case "MODIFY":
		finalContent = mergeContent(resolved, originalContent, newContent)
	default:
		finalContent = newContent
	}

	writtenPath, err := x.env.WriteFileAtomic(resolved, finalContent)
	if err != nil {
		return nil, err
	}

	result := &tasks.Result{Success: true, Output: "wrote " + writtenPath, Metadata: meta}
	if existed {
		result.FilesModified = []string{writtenPath}
	} else {
		result.FilesCreated = []string{writtenPath}
	}
	return result, nil
}

// resolveOperationMode implements spec.md §4.3 step 3.
func resolveOperationMode(override string, existed bool, description string) string {
	if override != "" && !strings.EqualFold(override, "AUTO") {
		return override
	}
	if !existed {
		return "CREATE"
	}
	lower := strings.ToLower(description)
	if strings.Contains(lower, "replace") || strings.Contains(lower, "rewrite") {
		return "REPLACE"
	}
	if strings.Contains(lower, "append") {
		return "APPEND"
	}
	return "MODIFY"
}

func appendContent(original, addition string) string {
	if original == "" {
		return addition
	}
	if strings.HasSuffix(original, "\n") {
		return original + addition
	}
	return original + "\n" + addition
}

func (x *Executor) runFileCopy(t *tasks.Task) (*tasks.Result, error) {
	src := stringParam(t.Parameters, "sourcePath")
	dst := stringParam(t.Parameters, "targetPath")
	overwrite := boolParam(t.Parameters, "overwrite", false)
	if err := x.env.CopyFile(src, dst, overwrite); err != nil {
		return nil, err
	}
	return &tasks.Result{Success: true, Output: "copied", FilesCreated: []string{dst}}, nil
}

func (x *Executor) runFileDelete(t *tasks.Task) (*tasks.Result, error) {
	path := stringParam(t.Parameters, "filePath")
	if err := x.env.DeleteFile(path); err != nil {
		return nil, err
	}
	return &tasks.Result{Success: true, Output: "deleted " + path}, nil
}

func (x *Executor) runDirectoryScan(t *tasks.Task) (*tasks.Result, error) {
	path := stringParam(t.Parameters, "directoryPath")
	maxDepth := intParam(t.Parameters, "maxDepth", 3)
	includeHidden := boolParam(t.Parameters, "includeHidden", false)

	scan, err := x.env.ScanDirectory(path, maxDepth, includeHidden)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, entry := range scan.Entries {
		kind := "file"
		if entry.IsDir {
			kind = "dir"
		}
		sb.WriteString(kind)
		sb.WriteString(" ")
		sb.WriteString(entry.Path)
		sb.WriteString("\n")
	}
	output, truncated := tasks.TruncateOutput(sb.String())
	meta := map[string]string{}
	if truncated {
		meta["truncated"] = "true"
	}
	return &tasks.Result{Success: true, Output: output, Metadata: meta}, nil
}

func (x *Executor) runLogAnalysis(t *tasks.Task) (*tasks.Result, error) {
	logFile := stringParam(t.Parameters, "logFile")
	content, truncated, err := x.env.ReadFile(logFile)
	if err != nil {
		return nil, err
	}
	summary := summarizeLog(content)
	meta := map[string]string{}
	if truncated {
		meta["sourceTruncated"] = "true"
	}
	return &tasks.Result{Success: true, Output: summary, Metadata: meta}, nil
}

// summarizeLog returns the tail of content plus a crude error/warn
// count, enough for an at-a-glance health signal without an AI call.
func summarizeLog(content string) string {
	lines := strings.Split(content, "\n")
	const tailLines = 50
	start := 0
	if len(lines) > tailLines {
		start = len(lines) - tailLines
	}
	tail := strings.Join(lines[start:], "\n")

	errorCount, warnCount := 0, 0
	for _, line := range lines {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") {
			errorCount++
		}
		if strings.Contains(lower, "warn") {
			warnCount++
		}
	}
	return "lines=" + strconv.Itoa(len(lines)) + " errors=" + strconv.Itoa(errorCount) +
		" warnings=" + strconv.Itoa(warnCount) + "\n---\n" + tail
}
