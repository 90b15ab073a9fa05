// Package repair implements LLM-backed code repair collaborators. Each
// provider sends a failing script with its error output to a model and
// parses the corrected script out of the reply.
package repair

import (
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/plunge"
)

const systemPrompt = `You repair failing Python analysis scripts. You receive a script, the error it produced, and context about the available data. Respond with:

ANALYSIS: one or two sentences naming the root cause.
FIX: one sentence describing the change.

Then the complete corrected script in a single fenced code block. Keep the script's intent and structure; change only what is needed to make it run. Do not invent data files that were not mentioned.`

// buildPrompt renders a repair request as the model's user message.
func buildPrompt(req plunge.RepairRequest) string {
	var b strings.Builder
	b.WriteString("This script failed:\n\n")
	b.WriteString("```python\n")
	b.WriteString(strings.TrimRight(req.Code, "\n"))
	b.WriteString("\n```\n\n")
	b.WriteString("Error:\n```\n")
	b.WriteString(strings.TrimSpace(req.ErrorMessage))
	b.WriteString("\n```\n")
	if out := strings.TrimSpace(req.Stdout); out != "" {
		b.WriteString("\nOutput before the failure:\n```\n")
		b.WriteString(out)
		b.WriteString("\n```\n")
	}
	if data := strings.TrimSpace(req.DataContext); data != "" {
		b.WriteString("\nAvailable data:\n")
		b.WriteString(data)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nThis is repair attempt %d of %d.\n", req.RetryCount+1, req.MaxRetries)
	return b.String()
}

// parseResponse extracts the analysis, fix description, and corrected
// code from a model reply. The last fenced code block is taken as the
// fix; labeled ANALYSIS/FIX lines are read from the surrounding prose.
func parseResponse(text string) (*plunge.RepairResult, error) {
	code, prose := splitLastCodeBlock(text)
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("repair response contained no code block")
	}
	result := &plunge.RepairResult{FixedCode: code}
	for _, line := range strings.Split(prose, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "ANALYSIS:"); ok {
			result.Analysis = strings.TrimSpace(rest)
		} else if rest, ok := strings.CutPrefix(line, "FIX:"); ok {
			result.FixDescription = strings.TrimSpace(rest)
		}
	}
	return result, nil
}

// splitLastCodeBlock returns the content of the last fenced code block
// and the text outside it. A missing or unterminated fence yields an
// empty code string.
func splitLastCodeBlock(text string) (code, prose string) {
	end := strings.LastIndex(text, "```")
	if end == -1 {
		return "", text
	}
	start := strings.LastIndex(text[:end], "```")
	if start == -1 {
		return "", text
	}
	block := text[start+3 : end]
	// Drop the language tag line
	if newline := strings.Index(block, "\n"); newline != -1 {
		block = block[newline+1:]
	} else {
		block = ""
	}
	prose = text[:start] + text[end+3:]
	return strings.TrimRight(block, "\n") + "\n", prose
}
