package comms

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlascmd/assetos"
)

func TestLoadPriorityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"priority_methods": ["wifi", "mesh"]}`), 0o644))

	assert.Equal(t, []string{"wifi", "mesh"}, loadPriorityFile(path, assetos.NopLogger{}))
}

func TestLoadPriorityFileMissingFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	assert.Equal(t, defaultPriority, loadPriorityFile(path, assetos.NopLogger{}))
}

func TestLoadPriorityFileMalformedFallsBackToDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o644))

	assert.Equal(t, defaultPriority, loadPriorityFile(path, assetos.NopLogger{}))
}

func TestPriorityListWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"priority_methods": ["mesh"]}`), 0o644))

	list := newPriorityList(loadPriorityFile(path, assetos.NopLogger{}), assetos.NopLogger{})
	list.Watch(path)
	defer list.Stop()
	require.Equal(t, []string{"mesh"}, list.Methods())

	require.NoError(t, os.WriteFile(path, []byte(`{"priority_methods": ["wifi", "mesh"]}`), 0o644))

	assert.Eventually(t, func() bool {
		methods := list.Methods()
		return len(methods) == 2 && methods[0] == "wifi"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPriorityListEmptyUsesDefault(t *testing.T) {
	list := newPriorityList(nil, assetos.NopLogger{})
	assert.Equal(t, defaultPriority, list.Methods())
}
