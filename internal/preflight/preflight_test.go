package preflight

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReportsBothChecks(t *testing.T) {
	// Given: an existing index root
	root := t.TempDir()

	// When: running the preflight probes
	checks := Run(root, 4)

	// Then: both checks report with a message
	require.Len(t, checks, 2)
	assert.Equal(t, "file_descriptors", checks[0].Name)
	assert.Equal(t, "disk_space", checks[1].Name)
	for _, c := range checks {
		assert.NotEmpty(t, c.Message)
	}
}

func TestFileDescriptors_HonorsCurrentLimit(t *testing.T) {
	// Given: the process's actual soft limit
	var limit syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit))

	// When: checking with zero capacity, so only the baseline applies
	c := fileDescriptors(0)

	// Then: the verdict matches the real limit
	assert.Equal(t, limit.Cur >= fdBaseline, c.OK, c.Message)
}

func TestFileDescriptors_ImpossibleCapacityWarns(t *testing.T) {
	// Given: a capacity no kernel fd limit could cover
	// When: checking it
	c := fileDescriptors(1 << 40)

	// Then: the check warns and suggests a fix
	assert.False(t, c.OK)
	assert.Contains(t, c.Message, "ulimit")
}

func TestDiskSpace_MissingRootFails(t *testing.T) {
	// Given: a root that does not exist
	root := filepath.Join(t.TempDir(), "absent")

	// When: checking free space
	c := diskSpace(root)

	// Then: the check fails with the path in the message
	assert.False(t, c.OK)
	assert.Contains(t, c.Message, root)
}

func TestDiskSpace_TempDirHasRoom(t *testing.T) {
	// When: checking the test temp dir
	c := diskSpace(t.TempDir())

	// Then: a healthy CI machine has more than the minimum free
	assert.True(t, c.OK, c.Message)
}
