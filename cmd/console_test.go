package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botbuilder/internal/config"
)

func TestConsoleAsk(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(strings.NewReader("  Echo bot \nsecond\n"), &out)
	ctx := context.Background()

	answer, err := con.Ask(ctx, "Name?")
	require.NoError(t, err)
	assert.Equal(t, "Echo bot", answer)

	answer, err = con.Ask(ctx, "Next?")
	require.NoError(t, err)
	assert.Equal(t, "second", answer)

	_, err = con.Ask(ctx, "More?")
	assert.ErrorIs(t, err, io.EOF)

	assert.Contains(t, out.String(), "Name?\n> ")
}

func TestConsoleAskCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	con := newConsole(pr, io.Discard)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := con.Ask(ctx, "Anyone there?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuilderConfigFromSettings(t *testing.T) {
	c := config.Default()
	c.Build.MaxQuestions = 4
	c.Build.AskFeedback = false
	c.Docker.Ports = map[string]string{"80/tcp": "8080"}

	bc := builderConfig(c)
	assert.Equal(t, 4, bc.MaxQuestions)
	assert.False(t, bc.AskFeedback)
	assert.Equal(t, ".env", bc.SecretsFile)
	assert.Equal(t, c.Build.RequiredFiles, bc.RequiredFiles)
	assert.Equal(t, "8080", bc.Ports["80/tcp"])
}

func TestNewExporterDisabledByDefault(t *testing.T) {
	exp, err := newExporter(context.Background(), config.Default())
	require.NoError(t, err)
	assert.Nil(t, exp)

	c := config.Default()
	c.Backup.Backend = "local"
	c.Backup.LocalPath = t.TempDir()
	exp, err = newExporter(context.Background(), c)
	require.NoError(t, err)
	assert.NotNil(t, exp)
}
