package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoader_File_DecodesAndDefaults(t *testing.T) {
	path := writeTempConfig(t, `
namespace: test-mesh
agents:
  - name: assistant
    tools: [echo]
    llm:
      provider: genai
      model: gemini-2.0-flash
      api_key: ${TEST_GENAI_KEY:-unset}
`)

	cfg, err := Load(LoaderOptions{Type: SourceFile, Path: path})
	require.NoError(t, err)

	assert.Equal(t, "test-mesh", cfg.Namespace)
	assert.Equal(t, "memory", cfg.Broker.Type)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "assistant", cfg.Agents[0].Name)
	assert.Equal(t, 25, cfg.Agents[0].MaxLLMCallsPerTask)
	assert.Equal(t, "unset", cfg.Agents[0].LLM.APIKey)
}

func TestLoader_File_ExpandsEnvVar(t *testing.T) {
	require.NoError(t, os.Setenv("TEST_GENAI_KEY", "super-secret"))
	defer os.Unsetenv("TEST_GENAI_KEY")

	path := writeTempConfig(t, `
agents:
  - name: assistant
    llm:
      provider: genai
      api_key: ${TEST_GENAI_KEY}
`)

	cfg, err := Load(LoaderOptions{Type: SourceFile, Path: path})
	require.NoError(t, err)
	assert.Equal(t, "super-secret", cfg.Agents[0].LLM.APIKey)
}

func TestLoader_File_RejectsInvalidDocument(t *testing.T) {
	path := writeTempConfig(t, `
discovery:
  backend: etcd
`)
	_, err := Load(LoaderOptions{Type: SourceFile, Path: path})
	assert.Error(t, err)
}

func TestLoader_File_MissingPath(t *testing.T) {
	_, err := NewLoader(LoaderOptions{Type: SourceFile})
	assert.Error(t, err)
}

func TestParseSourceType(t *testing.T) {
	cases := map[string]SourceType{
		"":          SourceFile,
		"file":      SourceFile,
		"consul":    SourceConsul,
		"etcd":      SourceEtcd,
		"zookeeper": SourceZookeeper,
		"zk":        SourceZookeeper,
	}
	for in, want := range cases {
		got, err := ParseSourceType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseSourceType("bogus")
	assert.Error(t, err)
}
