package launcher

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// streamWriter tees the agent's stream-json output into a session log as it
// arrives. Lines in the expected structured shape are rendered as readable
// progress entries; anything else passes through raw, so nothing is ever
// dropped and a malformed line never breaks the stream.
type streamWriter struct {
	log    io.Writer
	buffer []byte
}

func newStreamWriter(log io.Writer) *streamWriter {
	return &streamWriter{log: log}
}

// Write buffers partial lines and renders each complete line to the log.
// It never returns an error: log rendering must not fail the agent run.
func (w *streamWriter) Write(p []byte) (int, error) {
	w.buffer = append(w.buffer, p...)
	for {
		idx := -1
		for i, b := range w.buffer {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		line := w.buffer[:idx]
		w.buffer = w.buffer[idx+1:]
		w.writeLine(line)
	}
	return len(p), nil
}

// Flush renders any trailing partial line.
func (w *streamWriter) Flush() {
	if len(w.buffer) > 0 {
		w.writeLine(w.buffer)
		w.buffer = nil
	}
}

func (w *streamWriter) writeLine(line []byte) {
	rendered, ok := renderLine(line)
	if !ok {
		// Raw passthrough for anything not in the structured shape.
		fmt.Fprintf(w.log, "%s\n", line)
		return
	}
	if rendered != "" {
		fmt.Fprintln(w.log, rendered)
	}
}

// renderLine parses one stream-json line into a log entry. The second
// return value is false when the line is not structured output at all;
// a true with an empty string means a recognized but uninteresting message.
func renderLine(line []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(line))
	if trimmed == "" {
		return "", true
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return "", false
	}

	switch msgType, _ := raw["type"].(string); msgType {
	case "system":
		if sub, _ := raw["subtype"].(string); sub == "init" {
			model, _ := raw["model"].(string)
			return fmt.Sprintf("[init] model=%s", model), true
		}
		return "", true
	case "assistant":
		return renderAssistant(raw), true
	case "user":
		return renderToolResult(raw), true
	case "result":
		sub, _ := raw["subtype"].(string)
		text, _ := raw["result"].(string)
		return fmt.Sprintf("[result] %s %s", sub, truncate(text, 120)), true
	default:
		return "", false
	}
}

func renderAssistant(raw map[string]any) string {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, _ := block["text"].(string); text != "" {
				parts = append(parts, "[text] "+truncate(strings.TrimSpace(text), 200))
			}
		case "tool_use":
			name, _ := block["name"].(string)
			parts = append(parts, "[tool] "+strings.ToLower(name)+" "+toolDetail(name, block))
		}
	}
	return strings.Join(parts, "\n")
}

func renderToolResult(raw map[string]any) string {
	msg, ok := raw["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, ok := msg["content"].([]any)
	if !ok {
		return ""
	}
	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok || block["type"] != "tool_result" {
			continue
		}
		if isErr, _ := block["is_error"].(bool); isErr {
			text, _ := block["content"].(string)
			return "[tool-error] " + truncate(text, 200)
		}
	}
	return ""
}

// toolDetail pulls the most useful field out of a tool invocation.
func toolDetail(name string, block map[string]any) string {
	input, _ := block["input"].(map[string]any)
	switch name {
	case "Read", "Write", "Edit":
		path, _ := input["file_path"].(string)
		return shortPath(path)
	case "Glob", "Grep":
		pattern, _ := input["pattern"].(string)
		return truncate(pattern, 40)
	case "Bash":
		if desc, _ := input["description"].(string); desc != "" {
			return truncate(desc, 60)
		}
		cmd, _ := input["command"].(string)
		return truncate(cmd, 60)
	default:
		return ""
	}
}

// FinalResultText extracts the agent's final textual result from captured
// stream-json stdout. Output that never produced a result message falls
// back to the raw text itself, so callers always get something to parse.
func FinalResultText(stdout string) string {
	var final string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw struct {
			Type   string `json:"type"`
			Result string `json:"result"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw.Type == "result" {
			final = raw.Result
		}
	}
	if final == "" {
		return stdout
	}
	return final
}

// Succeeded reports whether captured stream-json output contains a
// successful result message. Unparsable output counts as success; the exit
// code remains the authoritative signal.
func Succeeded(stdout string) bool {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var raw struct {
			Type    string `json:"type"`
			Subtype string `json:"subtype"`
		}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			continue
		}
		if raw.Type == "result" {
			return raw.Subtype == "success"
		}
	}
	return true
}

func shortPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) <= 2 {
		return path
	}
	return ".../" + strings.Join(parts[len(parts)-2:], "/")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
