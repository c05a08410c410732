package agent

import (
	"fmt"
	"strings"
)

func systemPrompt(sourcePath string) string {
	return fmt.Sprintf(`You are a data engineering expert who repairs broken ETL pipelines.
You receive a failing %s, the error it produced and a sample of the input data.
Return ONLY the complete corrected %s. No explanations, no markdown code blocks.
Keep everything that is unrelated to the failure unchanged.`, sourceKind(sourcePath), sourceKind(sourcePath))
}

// BuildPrompt renders the user prompt. Until an attempt has produced a
// patch it shows the failing source; afterwards it shows the latest patch
// and the error it caused. Attempts without a patch are listed as earlier
// attempts in both forms.
func BuildPrompt(rc RepairContext) string {
	var b strings.Builder

	last, patched := rc.lastPatch()
	if !patched {
		b.WriteString("A pipeline has failed.\n\n")
		writeSection(&b, "ERROR", rc.Error)
		writeSection(&b, "DIAGNOSIS", rc.Diagnosis.Prompt())
		writeSection(&b, "CURRENT SOURCE", string(rc.Source))
	} else {
		b.WriteString("Your previous fix did not work.\n\n")
		writeSection(&b, "ORIGINAL ERROR", rc.Error)
		writeSection(&b, fmt.Sprintf("YOUR PREVIOUS FIX (attempt %d)", last.Attempt), string(last.Patch))
		writeSection(&b, "NEW ERROR AFTER YOUR FIX", last.Error)
		writeSection(&b, "DIAGNOSIS", rc.Diagnosis.Prompt())
	}

	var earlier strings.Builder
	for _, p := range rc.Prior {
		if patched && p.Attempt == last.Attempt {
			continue
		}
		fmt.Fprintf(&earlier, "attempt %d: %s\n", p.Attempt, firstLine(p.Error))
	}
	writeSection(&b, "EARLIER ATTEMPTS", earlier.String())

	writeSection(&b, "DATA COLUMNS", fmt.Sprintf("%v", rc.Header))
	if len(rc.Sample) > 0 {
		var sample strings.Builder
		for _, row := range rc.Sample {
			sample.WriteString(strings.Join(row, ","))
			sample.WriteByte('\n')
		}
		writeSection(&b, "SAMPLE ROWS", sample.String())
	}

	if !patched {
		fmt.Fprintf(&b, "TASK: Fix the %s so it handles the data above. Return ONLY the corrected source.", sourceKind(rc.SourcePath))
	} else {
		b.WriteString("TASK: Analyze what went wrong and provide a better fix. Return ONLY the corrected source.")
	}
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n\n", title, strings.TrimRight(body, "\n"))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
