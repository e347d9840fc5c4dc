package checkpoint

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	state, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, state, "nothing recorded yet")

	run := NewRunState(100, 4)
	run.Mapped = 42
	run.MappedThisRun = 40
	run.Discarded = 2
	require.NoError(t, mgr.Save(run))

	loaded, err := mgr.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, run.RunID, loaded.RunID)
	assert.Equal(t, 100, loaded.Target)
	assert.Equal(t, 4, loaded.Workers)
	assert.Equal(t, 42, loaded.Mapped)
	assert.Equal(t, 2, loaded.Discarded)
	assert.False(t, loaded.Finished())

	_, err = os.Stat(mgr.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")
}

func TestFinish(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	run := NewRunState(10, 1)
	run.Finish(StopFailed, errors.New("duplicate item type"))
	require.NoError(t, mgr.Save(run))

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.True(t, loaded.Finished())
	assert.Equal(t, StopFailed, loaded.StopReason)
	assert.Equal(t, "duplicate item type", loaded.Error)
	assert.GreaterOrEqual(t, loaded.Duration(), time.Duration(0))
}

func TestSaveReplacesPreviousRun(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)

	first := NewRunState(10, 1)
	require.NoError(t, mgr.Save(first))
	second := NewRunState(20, 2)
	require.NoError(t, mgr.Save(second))
	assert.NotEqual(t, first.RunID, second.RunID)

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, second.RunID, loaded.RunID)
}

func TestCorruptStateIsAnError(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(dir, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0644))

	_, err = mgr.Load()
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	mgr, err := NewManager(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(), "deleting nothing is fine")

	require.NoError(t, mgr.Save(NewRunState(1, 1)))
	require.NoError(t, mgr.Delete())
	state, err := mgr.Load()
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestDefaultDirectory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_DATA_HOME only applies on linux")
	}
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)

	mgr, err := NewManager("", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "invcrawler", FileName), mgr.Path())
}
