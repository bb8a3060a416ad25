// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gradient

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exampleStream = []string{
	`{"type":"clusterInfo","data":{"model":"X"}}`,
	`{"type":"reply","data":{"content":"ab","reasoningContent":"r1"}}`,
	`{"type":"reply","data":{"content":"cd"}}`,
	`{"type":"jobInfo","data":{"status":"completed"}}`,
}

func TestDecodeLines_Example(t *testing.T) {
	out, err := DecodeLines(exampleStream)
	require.NoError(t, err)

	assert.Equal(t, "abcd", out.Reply)
	assert.Equal(t, "r1", out.Reasoning)
	assert.Equal(t, "X", out.Model)
	assert.True(t, out.Completed)
}

func TestDecodeLines_MissingCompletion(t *testing.T) {
	tests := []struct {
		name  string
		lines []string
	}{
		{name: "no lines", lines: nil},
		{name: "content only", lines: exampleStream[:3]},
		{name: "in progress status", lines: []string{
			`{"type":"reply","data":{"content":"partial"}}`,
			`{"type":"jobInfo","data":{"status":"running"}}`,
		}},
		{name: "only garbage", lines: []string{"not json", "{", "[]"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := DecodeLines(tc.lines)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, ErrJobIncomplete)
		})
	}
}

func TestDecodeLines_FailedJob(t *testing.T) {
	out, err := DecodeLines([]string{
		`{"type":"reply","data":{"content":"partial"}}`,
		`{"type":"jobInfo","data":{"status":"failed","message":"cluster busy"}}`,
	})
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrJobIncomplete)

	var failed *JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "failed", failed.Status)
	assert.Equal(t, "cluster busy", failed.Message)
	assert.Contains(t, err.Error(), "cluster busy")
}

func TestDecodeLines_CompletionWinsOverFailure(t *testing.T) {
	out, err := DecodeLines([]string{
		`{"type":"jobInfo","data":{"status":"error"}}`,
		`{"type":"reply","data":{"content":"ok"}}`,
		`{"type":"jobInfo","data":{"status":"completed"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Reply)
}

func TestDecoder_SkipsMalformedLines(t *testing.T) {
	d := NewDecoder()
	d.Feed("not json at all")
	d.Feed(`{"type":"reply","data":{"content":"a"}}`)
	d.Feed("")
	d.Feed("   ")
	d.Feed(`"just a string"`)
	d.Feed(`{"type":"reply","data":{"content":"b"}}`)
	d.Feed(`{"type":"jobInfo","data":{"status":"completed"}}`)

	out, err := d.Finish()
	require.NoError(t, err)
	assert.Equal(t, "ab", out.Reply)
	assert.Equal(t, 2, d.Skipped())
	assert.Equal(t, 7, d.Lines())
}

func TestDecoder_ClusterInfo(t *testing.T) {
	t.Run("last writer wins", func(t *testing.T) {
		d := NewDecoder()
		d.Feed(`{"type":"clusterInfo","data":{"model":"first"}}`)
		d.Feed(`{"type":"clusterInfo","data":{"model":"second"}}`)
		assert.Equal(t, "second", d.Model())
	})

	t.Run("absent key keeps previous value", func(t *testing.T) {
		d := NewDecoder()
		d.Feed(`{"type":"clusterInfo","data":{"model":"first"}}`)
		d.Feed(`{"type":"clusterInfo","data":{"region":"eu"}}`)
		assert.Equal(t, "first", d.Model())
	})

	t.Run("explicit null clears the model", func(t *testing.T) {
		d := NewDecoder()
		d.Feed(`{"type":"clusterInfo","data":{"model":"X"}}`)
		d.Feed(`{"type":"clusterInfo","data":{"model":null}}`)
		d.Feed(`{"type":"jobInfo","data":{"status":"completed"}}`)
		out, err := d.Finish()
		require.NoError(t, err)
		assert.Empty(t, out.Model)
	})

	t.Run("no cluster info", func(t *testing.T) {
		out, err := DecodeLines([]string{`{"type":"jobInfo","data":{"status":"completed"}}`})
		require.NoError(t, err)
		assert.Empty(t, out.Model)
		assert.Empty(t, out.Reply)
	})
}

func TestDecoder_KeysAreCaseSensitive(t *testing.T) {
	out, err := DecodeLines([]string{
		`{"TYPE":"jobInfo","DATA":{"STATUS":"completed"}}`,
		`{"type":"jobInfo","data":{"Status":"completed"}}`,
		`{"type":"reply","data":{"Content":"hi","ReasoningContent":"r"}}`,
		`{"Type":"clusterInfo","data":{"model":"X"}}`,
	})
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrJobIncomplete)

	d := NewDecoder()
	d.Feed(`{"type":"reply","data":{"Content":"hi"}}`)
	d.Feed(`{"type":"clusterInfo","data":{"Model":"X"}}`)
	d.Feed(`{"type":"reply","data":{"content":"ok"}}`)
	d.Feed(`{"type":"jobInfo","data":{"status":"completed"}}`)
	out, err = d.Finish()
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Reply)
	assert.Empty(t, out.Model)
	assert.Zero(t, d.Skipped(), "well-formed objects with unknown keys are ignored, not skipped")
}

func TestDecoder_NonStringValues(t *testing.T) {
	d := NewDecoder()
	d.Feed(`{"type":"reply","data":{"content":42}}`)
	d.Feed(`{"type":"reply","data":"not an object"}`)
	d.Feed(`{"type":"reply","data":null}`)
	d.Feed(`null`)
	d.Feed(`{"type":"reply","data":{"content":"a"}}`)
	d.Feed(`{"type":"jobInfo","data":{"status":"completed"}}`)

	out, err := d.Finish()
	require.NoError(t, err)
	assert.Equal(t, "a", out.Reply)
	assert.Equal(t, 2, d.Skipped())
}

func TestDecoder_TrimsOutput(t *testing.T) {
	out, err := DecodeLines([]string{
		`{"type":"reply","data":{"content":"  Hello","reasoningContent":"\n think "}}`,
		`{"type":"reply","data":{"content":" world \n"}}`,
		`{"type":"unknown","data":{"content":"ignored"}}`,
		`{"type":"jobInfo","data":{"status":"completed"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out.Reply)
	assert.Equal(t, "think", out.Reasoning)
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: []string{}},
		{in: "a", want: []string{"a"}},
		{in: "a\nb\n", want: []string{"a", "b"}},
		{in: "a\r\nb\rc", want: []string{"a", "b", "c"}},
		{in: "a\n\nb", want: []string{"a", "", "b"}},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, SplitLines(tc.in), "SplitLines(%q)", tc.in)
	}
}

func TestDecodeReader(t *testing.T) {
	body := strings.Join(exampleStream, "\r\n") + "\r\n"
	out, lines, err := DecodeReader(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, "abcd", out.Reply)
	assert.Equal(t, exampleStream, lines)
}
