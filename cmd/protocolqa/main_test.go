package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/protocolqa/internal/storage"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCMD()
	cmd.SetOut(&out)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Version: dev")
	assert.Contains(t, out.String(), "Build Mode: "+storage.BuildMode)
}

func TestSearchCommand_RejectsUnknownMode(t *testing.T) {
	cfgPath := ""
	cmd := searchCMD(&cfgPath)
	cmd.SetArgs([]string{"--mode", "fuzzy", "insulin"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported search mode")
}

func TestWriteJSON(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeJSON(&out, map[string]int{"windows": 4}))
	assert.Equal(t, "{\n  \"windows\": 4\n}\n", out.String())
}
