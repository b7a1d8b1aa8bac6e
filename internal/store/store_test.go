package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daemonp/visonic2mqtt/internal/config"
)

func testEntry(panel string) config.EntryConfig {
	e := config.NewEntryConfig()
	e.Email = "me@example.com"
	e.Password = "pw"
	e.PanelID = panel
	e.MasterCode = "1234"
	e.UUID = "uuid-" + panel
	return e
}

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "entries.yml"))
	require.NoError(t, err)
	require.Empty(t, s.Entries())
}

func TestAddPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "entries.yml")
	s, err := Open(path)
	require.NoError(t, err)

	added, err := s.Add(testEntry("12345"))
	require.NoError(t, err)
	require.NotEmpty(t, added.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, []config.EntryConfig{added}, reopened.Entries())

	got, err := reopened.Get(added.ID)
	require.NoError(t, err)
	require.Equal(t, "12345", got.PanelID)
	require.True(t, got.CodelessArm)
}

func TestReplaceAndRemove(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "entries.yml"))
	require.NoError(t, err)

	a, err := s.Add(testEntry("1"))
	require.NoError(t, err)
	b, err := s.Add(testEntry("2"))
	require.NoError(t, err)

	a.UpdateInterval = 15
	require.NoError(t, s.Replace(a))
	got, err := s.Get(a.ID)
	require.NoError(t, err)
	require.Equal(t, 15, got.UpdateInterval)

	require.NoError(t, s.Remove(b.ID))
	require.Len(t, s.Entries(), 1)

	require.ErrorIs(t, s.Remove(b.ID), ErrNotFound)
	require.ErrorIs(t, s.Replace(b), ErrNotFound)
	_, err = s.Get(b.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenFillsInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - id: abc
    host: visonic.tycomonitor.com
    panel_id: "12345"
`), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	entries := s.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, config.DefaultUpdateInterval, entries[0].UpdateInterval)
	require.Equal(t, "12345", entries[0].PanelID)
}

func TestOpenInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.yml")
	require.NoError(t, os.WriteFile(path, []byte("entries: [\n"), 0o600))
	_, err := Open(path)
	require.Error(t, err)
}

func TestOpenFillsFormDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
entries:
  - id: partial
    panel_id: "12345"
  - id: explicit
    host: example.tycomonitor.com
    panel_id: "67890"
    codeless_arm: false
    codeless_disarm: true
    update_interval: 15
`), 0o600))

	s, err := Open(path)
	require.NoError(t, err)

	partial, err := s.Get("partial")
	require.NoError(t, err)
	require.Equal(t, config.DefaultHost, partial.Host)
	require.True(t, partial.CodelessArm)
	require.False(t, partial.CodelessDisarm)
	require.Equal(t, config.DefaultUpdateInterval, partial.UpdateInterval)

	explicit, err := s.Get("explicit")
	require.NoError(t, err)
	require.Equal(t, "example.tycomonitor.com", explicit.Host)
	require.False(t, explicit.CodelessArm)
	require.True(t, explicit.CodelessDisarm)
	require.Equal(t, 15, explicit.UpdateInterval)
}
