package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fetchup "github.com/sleepcha/Fetchup"
)

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	printVersion(&buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "fetchup "+fetchup.Version, lines[0])
	assert.Contains(t, lines[1], "commit: "+fetchup.GitCommit)
	assert.Contains(t, lines[2], "build_date: "+fetchup.BuildDate)
	assert.Contains(t, lines[3], "go_version: "+fetchup.GoVersion)
}

func TestQueryParamsSet(t *testing.T) {
	q := make(queryParams)
	require.NoError(t, q.Set("q=hello world"))
	require.NoError(t, q.Set("page=2"))
	assert.Equal(t, "hello world", q["q"])
	assert.Equal(t, "2", q["page"])

	assert.Error(t, q.Set("novalue"))
	assert.Error(t, q.Set("=x"))
}
