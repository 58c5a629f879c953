package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRootCmdIncludesServe(t *testing.T) {
	cmd := buildRootCmd()

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())

	for _, flag := range []string{"config", "debug"} {
		assert.NotNil(t, serve.Flags().Lookup(flag), "missing --%s", flag)
	}
}

func TestServeRejectsMissingConfigFile(t *testing.T) {
	cmd := buildRootCmd()
	cmd.SetArgs([]string{"serve", "--config", t.TempDir() + "/absent.yaml"})
	cmd.SilenceErrors = true

	assert.Error(t, cmd.Execute())
}
