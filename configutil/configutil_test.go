package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	Extends string `yaml:"extends"`
	Name    string `yaml:"name" validate:"nonzero"`
	Port    int    `yaml:"port"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSimpleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "base.yaml", "name: agent1\nport: 9000\n")

	var cfg testConfig
	require.NoError(t, Load(path, &cfg))
	require.Equal(t, "agent1", cfg.Name)
	require.Equal(t, 9000, cfg.Port)
}

func TestLoadExtendsOverridesBase(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "name: base-name\nport: 9000\n")
	derived := writeFile(t, dir, "derived.yaml", "extends: "+base+"\nport: 9100\n")

	var cfg testConfig
	require.NoError(t, Load(derived, &cfg))
	require.Equal(t, "base-name", cfg.Name, "derived file doesn't set name, base value survives")
	require.Equal(t, 9100, cfg.Port, "derived file overrides port")
}

func TestLoadDetectsCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte("extends: "+b+"\nname: a\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("extends: "+a+"\nname: b\n"), 0o644))

	var cfg testConfig
	err := Load(a, &cfg)
	require.ErrorIs(t, err, ErrCycleRef)
}

func TestLoadReportsValidationErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", "port: 9000\n")

	var cfg testConfig
	err := Load(path, &cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestLoadMissingFile(t *testing.T) {
	var cfg testConfig
	require.Error(t, Load("/no/such/file.yaml", &cfg))
}
