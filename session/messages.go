package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aioschat/server/agent"
)

// maxChunkSize bounds a single response-chunk payload in bytes.
const maxChunkSize = 16 * 1024

// contextualPrompt prefixes the message with a note naming the working directory.
func contextualPrompt(workDir, message string) string {
	if workDir == "" {
		return message
	}
	return fmt.Sprintf("[Context: you are working in the directory %q. Use the Read, Glob, Grep and Edit tools to inspect and modify files in this project.]\n\n%s", workDir, message)
}

func directoryNotFound(dir string) string {
	return fmt.Sprintf("Directory not found: %q\n\nCheck that the path is correct and try again.", dir)
}

func timeoutMessage(after time.Duration) string {
	return fmt.Sprintf("The operation exceeded the time limit (%s). Try splitting the task into smaller parts.", humanDuration(after))
}

func emptyMessage(o agent.CompletedEmpty) string {
	if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
		return stderr
	}
	return "The assistant finished without producing a response."
}

func failedMessage(o agent.Failed) string {
	if stderr := strings.TrimSpace(o.Stderr); stderr != "" {
		return stderr
	}
	if o.Killed {
		return "The assistant process was terminated."
	}
	return fmt.Sprintf("The assistant exited with code %d.", o.ExitCode)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", n)
	case d >= time.Second && d%time.Second == 0:
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	default:
		return d.String()
	}
}

// splitChunks cuts s into pieces of at most size bytes without splitting a
// UTF-8 sequence. An empty string yields no chunks.
func splitChunks(s string, size int) []string {
	var chunks []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = size
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
