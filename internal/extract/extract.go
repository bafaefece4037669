// Package extract pulls a structured {spec, tasks} document out of a
// free-form LLM completion, tolerating the several shapes a model tends
// to produce around the requested JSON contract.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Task is one extracted implementation task.
type Task struct {
	Title   string `json:"title"`
	Details string `json:"details"`
}

// Result is the extracted structured output.
type Result struct {
	Spec  string `json:"spec"`
	Tasks []Task `json:"tasks"`
}

// ExtractError reports that none of the extraction layers could
// recover a result from raw. Callers persist Raw to a debug sink.
type ExtractError struct {
	Raw string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract: unable to recover structured output from %d-byte response", len(e.Raw))
}

var (
	codeFencePattern = regexp.MustCompile("(?s)^\\s*```(?:json)?\\s*\\n?(.*?)\\n?```\\s*$")
	thinkBlockPattern = regexp.MustCompile(`(?is)<think>.*?</think>`)
	specFieldPattern = regexp.MustCompile(`(?s)"spec"\s*:\s*"(.*?)"\s*,\s*"tasks"`)
	tasksArrayPattern = regexp.MustCompile(`"tasks"\s*:\s*(\[.*\])`)
	taskObjectPattern = regexp.MustCompile(`\{\s*"title"\s*:\s*"((?:\\.|[^"\\])*)"\s*,\s*"details"\s*:\s*"((?:\\.|[^"\\])*)"\s*\}`)
)

// Extract runs the four-layer recovery pipeline described for the
// structured output extractor: fence/think stripping, direct decode,
// substring decode, then regex field extraction.
func Extract(raw string) (*Result, error) {
	cleaned := clean(raw)

	if r, ok := tryDirectDecode(cleaned); ok {
		return r, nil
	}
	if r, ok := trySubstringDecode(cleaned); ok {
		return r, nil
	}
	if r, ok := tryRegexExtraction(cleaned); ok {
		return r, nil
	}
	return nil, &ExtractError{Raw: raw}
}

// clean strips a leading/trailing code fence and any <think> block.
func clean(raw string) string {
	s := thinkBlockPattern.ReplaceAllString(raw, "")
	s = strings.TrimSpace(s)
	if m := codeFencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	return s
}

func tryDirectDecode(s string) (*Result, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, false
	}
	specRaw, ok := raw["spec"]
	if !ok {
		return nil, false
	}
	var spec string
	if err := json.Unmarshal(specRaw, &spec); err != nil {
		return nil, false
	}
	result := &Result{Spec: spec, Tasks: []Task{}}
	if tasksRaw, ok := raw["tasks"]; ok {
		var tasks []Task
		if err := json.Unmarshal(tasksRaw, &tasks); err == nil {
			result.Tasks = tasks
		}
	}
	return result, true
}

// trySubstringDecode locates the first '{' that precedes a "spec" key
// and the last '}' in the string, and retries decoding that span —
// recovering a JSON object surrounded by prose the model added despite
// the no-commentary instruction.
func trySubstringDecode(s string) (*Result, bool) {
	specIdx := strings.Index(s, `"spec"`)
	if specIdx == -1 {
		return nil, false
	}
	start := strings.LastIndex(s[:specIdx], "{")
	if start == -1 {
		return nil, false
	}
	end := strings.LastIndex(s, "}")
	if end == -1 || end < start {
		return nil, false
	}
	return tryDirectDecode(s[start : end+1])
}

func tryRegexExtraction(s string) (*Result, bool) {
	specMatch := specFieldPattern.FindStringSubmatch(s)
	if specMatch == nil {
		return nil, false
	}
	spec := unescape(specMatch[1])

	result := &Result{Spec: spec, Tasks: []Task{}}

	if tasksMatch := tasksArrayPattern.FindStringSubmatch(s); tasksMatch != nil {
		var tasks []Task
		if err := json.Unmarshal([]byte(tasksMatch[1]), &tasks); err == nil {
			result.Tasks = tasks
			return result, true
		}
	}

	for _, m := range taskObjectPattern.FindAllStringSubmatch(s, -1) {
		result.Tasks = append(result.Tasks, Task{
			Title:   unescape(m[1]),
			Details: unescape(m[2]),
		})
	}
	return result, true
}

var unescapeReplacer = strings.NewReplacer(
	`\n`, "\n",
	`\"`, `"`,
	`\\`, `\`,
)

func unescape(s string) string {
	return unescapeReplacer.Replace(s)
}
