package patch

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffGenerator produces line-oriented unified diffs.
type DiffGenerator struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewDiffGenerator creates a new diff generator
func NewDiffGenerator() *DiffGenerator {
	return &DiffGenerator{dmp: diffmatchpatch.New()}
}

// lineDiffs diffs whole lines rather than characters.
func (g *DiffGenerator) lineDiffs(oldContent, newContent string) []diffmatchpatch.Diff {
	a, b, lines := g.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := g.dmp.DiffMain(a, b, false)
	return g.dmp.DiffCharsToLines(diffs, lines)
}

// UnifiedDiff renders the change from oldContent to newContent as a single
// hunk covering the whole file, with a/ and b/ path headers.
func (g *DiffGenerator) UnifiedDiff(path, oldContent, newContent string) string {
	var buf bytes.Buffer

	// Write diff header
	fmt.Fprintf(&buf, "--- a/%s\n", path)
	fmt.Fprintf(&buf, "+++ b/%s\n", path)

	if oldContent == newContent {
		return buf.String()
	}

	var hunkLines []string
	var oldCount, newCount int
	for _, diff := range g.lineDiffs(oldContent, newContent) {
		for _, line := range splitLines(diff.Text) {
			switch diff.Type {
			case diffmatchpatch.DiffEqual:
				hunkLines = append(hunkLines, " "+line)
				oldCount++
				newCount++
			case diffmatchpatch.DiffDelete:
				hunkLines = append(hunkLines, "-"+line)
				oldCount++
			case diffmatchpatch.DiffInsert:
				hunkLines = append(hunkLines, "+"+line)
				newCount++
			}
		}
	}

	fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n", hunkStart(oldCount), oldCount, hunkStart(newCount), newCount)
	for _, line := range hunkLines {
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	return buf.String()
}

// CountChanges returns the number of inserted and deleted lines.
func (g *DiffGenerator) CountChanges(oldContent, newContent string) (insertions, deletions int) {
	for _, diff := range g.lineDiffs(oldContent, newContent) {
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			insertions += countLines(diff.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(diff.Text)
		}
	}
	return insertions, deletions
}

// An empty side of a unified diff starts at line 0.
func hunkStart(count int) int {
	if count == 0 {
		return 0
	}
	return 1
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// countLines counts the number of lines in a string
// Empty string = 0 lines
// String ending with \n = number of \n
// String not ending with \n = number of \n + 1
func countLines(content string) int {
	if content == "" {
		return 0
	}

	count := strings.Count(content, "\n")

	// If content doesn't end with newline, add 1 for the last line
	if !strings.HasSuffix(content, "\n") {
		count++
	}

	return count
}
