package builder

import (
	"regexp"
	"strings"
)

const (
	summaryTailLines = 200
	summaryMaxLen    = 240
)

// pip prefixes its own diagnostics with "ERROR:". Some of them only say that
// a build failed; the reason sits earlier in the backend's output.
var wrapperErrors = []string{
	"failed building wheel for",
	"could not build wheels for",
	"subprocess-exited-with-error",
	"failed to build",
}

// causePattern matches backend output that names what went wrong.
var causePattern = regexp.MustCompile(`(?i)(fatal error:|^error: |\w+(error|exception): |command not found|no such file or directory)`)

// summarizeLog picks the line of a pip log that best explains a failure.
func summarizeLog(logContent string) string {
	lines := strings.Split(logContent, "\n")
	if len(lines) > summaryTailLines {
		lines = lines[len(lines)-summaryTailLines:]
	}

	var pipErr, cause, last string
	for _, raw := range lines {
		line := stripDecoration(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "ERROR:"):
			pipErr = line
		case causePattern.MatchString(line):
			cause = line
		case !isProgressLine(line):
			last = line
		}
	}

	switch {
	case pipErr != "" && cause != "" && isWrapperError(pipErr):
		return trimSummary(cause)
	case pipErr != "":
		return trimSummary(pipErr)
	case cause != "":
		return trimSummary(cause)
	default:
		return trimSummary(last)
	}
}

// stripDecoration removes the box drawing pip puts around subprocess output.
func stripDecoration(line string) string {
	return strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "×│╰─>║ "))
}

func isWrapperError(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range wrapperErrors {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// isProgressLine reports pip's routine status output.
func isProgressLine(line string) bool {
	for _, p := range []string{"Collecting ", "Downloading ", "Building wheel", "Running setup.py", "Installing build dependencies", "Saved ", "Created wheel", "Stored in directory", "copying ", "writing ", "note: "} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

func trimSummary(line string) string {
	if len(line) <= summaryMaxLen {
		return line
	}
	return line[:summaryMaxLen] + "..."
}
