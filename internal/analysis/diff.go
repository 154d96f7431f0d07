// internal/analysis/diff.go
package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxDiffChars is the character budget for a diff embedded in an analysis
// prompt.
const MaxDiffChars = 30000

const truncationMarker = "\n\n[truncated: remaining files omitted due to size limit]"

// fileBoundary marks the start of one file's section inside a diff, for
// both raw unified diffs and diffs rebuilt from stored file fragments.
var fileBoundary = regexp.MustCompile(`(?m)^(?:diff --git |--- a/)`)

// ExtractDiff pulls diff text out of a commit's stored raw payload. An
// explicit diff field wins; otherwise the diff is rebuilt from the stored
// per-file patch fragments. Empty means no diff material exists.
func ExtractDiff(rawPayload map[string]any) string {
	if diff, ok := rawPayload["diff"].(string); ok && diff != "" {
		return diff
	}
	return buildDiffFromFiles(rawPayload)
}

// buildDiffFromFiles reassembles a unified-diff-like text from the files
// list of a commit detail payload.
func buildDiffFromFiles(rawPayload map[string]any) string {
	files, ok := rawPayload["files"].([]any)
	if !ok {
		return ""
	}

	var parts []string
	for _, entry := range files {
		file, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		patch, _ := file["patch"].(string)
		if patch == "" {
			continue
		}
		filename, _ := file["filename"].(string)
		if filename == "" {
			filename = "unknown"
		}
		status, _ := file["status"].(string)
		if status == "" {
			status = "modified"
		}

		parts = append(parts,
			fmt.Sprintf("--- a/%s", filename),
			fmt.Sprintf("+++ b/%s", filename),
			fmt.Sprintf("Status: %s", status),
			patch,
			"")
	}
	return strings.Join(parts, "\n")
}

// TruncateDiff cuts a diff down to maxChars by dropping whole trailing
// file sections, so no file's patch is split across the cut. When the text
// has no file boundaries at all it is hard-truncated instead. The marker
// is appended whenever anything was dropped; the result never exceeds
// maxChars.
func TruncateDiff(diff string, maxChars int) string {
	if len(diff) <= maxChars {
		return diff
	}

	reserved := len(truncationMarker)
	sections := splitFileSections(diff)

	var b strings.Builder
	for _, section := range sections {
		if strings.TrimSpace(section) == "" {
			continue
		}
		if b.Len()+len(section)+reserved > maxChars {
			break
		}
		b.WriteString(section)
	}

	if b.Len() == 0 {
		return diff[:maxChars-reserved] + truncationMarker
	}
	return b.String() + truncationMarker
}

// splitFileSections splits a diff at file boundaries, keeping any preamble
// before the first boundary as its own section.
func splitFileSections(diff string) []string {
	bounds := fileBoundary.FindAllStringIndex(diff, -1)
	if len(bounds) == 0 {
		return []string{diff}
	}

	var sections []string
	prev := 0
	for _, b := range bounds {
		if b[0] > prev {
			sections = append(sections, diff[prev:b[0]])
		}
		prev = b[0]
	}
	sections = append(sections, diff[prev:])
	return sections
}
