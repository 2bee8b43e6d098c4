package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskPathFor(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, diskPathFor(filepath.Join(dir, "licenses.db")))
	assert.NotEmpty(t, diskPathFor(""))

	rel := diskPathFor("licenses.db")
	assert.True(t, filepath.IsAbs(rel), "relative paths resolve against the working directory")
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	c := NewCollector(filepath.Join(dir, "licenses.db"))
	c.cpuSample = 10 * time.Millisecond

	m, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, m.DiskPath)
	assert.Positive(t, m.Goroutines)
	assert.GreaterOrEqual(t, m.CPUUsage, 0.0)
	assert.GreaterOrEqual(t, m.MemoryUsage, 0.0)
	assert.LessOrEqual(t, m.DiskUsage, 100.0)
	assert.GreaterOrEqual(t, m.DiskTotalBytes, m.DiskFreeBytes)
}

func TestCollect_CancelledContext(t *testing.T) {
	c := NewCollector("")
	c.cpuSample = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
