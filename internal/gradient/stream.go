// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gradient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// STREAMING: line-delimited JSON events, one object per line

// =============================================================================
// EVENT TYPES
// =============================================================================

// Event type discriminators sent by the service.
const (
	EventJobInfo     = "jobInfo"
	EventClusterInfo = "clusterInfo"
	EventReply       = "reply"
)

// StatusCompleted is the jobInfo status marking a finished generation.
const StatusCompleted = "completed"

// failedStatuses are jobInfo statuses reported as JobFailedError.
var failedStatuses = map[string]bool{
	"failed":    true,
	"error":     true,
	"cancelled": true,
	"canceled":  true,
}

// Event and data keys are matched exactly; encoding/json's case-insensitive
// struct matching would let mis-cased noise lines through.
const (
	keyType             = "type"
	keyData             = "data"
	keyStatus           = "status"
	keyMessage          = "message"
	keyModel            = "model"
	keyContent          = "content"
	keyReasoningContent = "reasoningContent"
)

// fields is one JSON object with its values left undecoded.
type fields map[string]json.RawMessage

// str returns the string value of key. ok is false when the key is absent,
// null or not a string.
func (f fields) str(key string) (value string, ok bool) {
	raw, present := f[key]
	if !present {
		return "", false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

// has reports whether key is present, even with a null value.
func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

// =============================================================================
// OUTCOME AND ERRORS
// =============================================================================

// Outcome is the result of a completed stream.
type Outcome struct {
	Reply     string `json:"reply"`
	Reasoning string `json:"reasoning"`
	// Model is the model the service resolved the request to. Empty when no
	// clusterInfo event named one.
	Model     string `json:"model"`
	Completed bool   `json:"completed"`
}

// ErrJobIncomplete is returned when a stream ends without a completed jobInfo
// event. Any reply text received is discarded.
var ErrJobIncomplete = errors.New("job did not complete successfully")

// JobFailedError is returned when the service explicitly reported a failed
// job and never reported completion. It matches ErrJobIncomplete with
// errors.Is.
type JobFailedError struct {
	Status  string
	Message string
}

// Error implements the error interface.
func (e *JobFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("job %s: %s", e.Status, e.Message)
	}
	return "job " + e.Status
}

// Is reports whether target is ErrJobIncomplete.
func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobIncomplete
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder accumulates stream lines into an Outcome. Lines that are not JSON
// objects are skipped; they never abort decoding.
type Decoder struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	reply     strings.Builder
	reasoning strings.Builder
	model     string
	completed bool
	failure   *JobFailedError

	lines   int
	skipped int
}

// NewDecoder creates an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed processes one line of the response body.
func (d *Decoder) Feed(line string) {
	d.lines++

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}

	var ev fields
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev == nil {
		// Heartbeats and unknown shapes are expected noise.
		d.skipped++
		return
	}

	data := fields{}
	if raw, ok := ev[keyData]; ok {
		if err := json.Unmarshal(raw, &data); err != nil {
			d.skipped++
			return
		}
		if data == nil {
			data = fields{}
		}
	}

	typ, _ := ev.str(keyType)
	switch typ {
	case EventJobInfo:
		status, _ := data.str(keyStatus)
		if status == StatusCompleted {
			d.completed = true
		} else if failedStatuses[strings.ToLower(status)] {
			message, _ := data.str(keyMessage)
			d.failure = &JobFailedError{Status: status, Message: message}
		}
	case EventClusterInfo:
		// A present key always wins, so an explicit null clears the model.
		if data.has(keyModel) {
			d.model, _ = data.str(keyModel)
		}
	case EventReply:
		if content, _ := data.str(keyContent); content != "" {
			d.reply.WriteString(content)
		}
		if reasoning, _ := data.str(keyReasoningContent); reasoning != "" {
			d.reasoning.WriteString(reasoning)
		}
	}
}

// Lines returns the number of lines fed so far.
func (d *Decoder) Lines() int {
	return d.lines
}

// Skipped returns the number of non-blank lines that failed to parse.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Model returns the most recently resolved model name.
func (d *Decoder) Model() string {
	return d.model
}

// Finish returns the decoded outcome. It fails with ErrJobIncomplete (or a
// JobFailedError) when the stream never reported completion.
func (d *Decoder) Finish() (*Outcome, error) {
	if !d.completed {
		if d.failure != nil {
			return nil, d.failure
		}
		return nil, ErrJobIncomplete
	}

	return &Outcome{
		Reply:     strings.TrimSpace(d.reply.String()),
		Reasoning: strings.TrimSpace(d.reasoning.String()),
		Model:     d.model,
		Completed: true,
	}, nil
}

// DecodeLines decodes a complete response body already split into lines.
func DecodeLines(lines []string) (*Outcome, error) {
	d := NewDecoder()
	for _, line := range lines {
		d.Feed(line)
	}
	return d.Finish()
}

// DecodeReader reads r to the end and decodes it. The raw lines are returned
// alongside the outcome so callers can log them.
func DecodeReader(r io.Reader) (*Outcome, []string, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read stream: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, nil, ErrResponseTooLarge
	}

	lines := SplitLines(string(body))
	outcome, err := DecodeLines(lines)
	return outcome, lines, err
}

// SplitLines splits a response body on \n, \r\n and \r. A trailing line
// break does not produce a trailing empty line.
func SplitLines(s string) []string {
	lines := make([]string, 0, strings.Count(s, "\n")+1)
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			lines = append(lines, s[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, s[start:i])
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
