// Package preflight probes the process environment before the daemon
// starts serving: enough file descriptors for the configured handle
// capacity, and free space on the index root. Failures are advisory;
// the daemon logs them and keeps going.
package preflight

import (
	"fmt"
	"syscall"
)

const (
	// Each open index keeps several segment files plus a lock and a
	// metadata store open; 32 descriptors per handle is a generous
	// allowance.
	fdsPerHandle = 32

	// fdBaseline covers the socket listener, log file, registry, and
	// everything else the process holds outside index handles.
	fdBaseline = 256

	// minFreeBytes is the least free space on the index root before
	// the disk check warns. Index writes fail badly on a full disk.
	minFreeBytes = 100 * 1024 * 1024
)

// Check is the outcome of a single preflight probe.
type Check struct {
	Name    string
	OK      bool
	Message string
}

// Run probes the environment for a daemon that may hold up to capacity
// open indexes under root.
func Run(root string, capacity int) []Check {
	return []Check{
		fileDescriptors(capacity),
		diskSpace(root),
	}
}

func fileDescriptors(capacity int) Check {
	c := Check{Name: "file_descriptors"}

	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		c.Message = fmt.Sprintf("cannot read RLIMIT_NOFILE: %v", err)
		return c
	}

	need := uint64(capacity)*fdsPerHandle + fdBaseline
	if limit.Cur < need {
		c.Message = fmt.Sprintf("soft fd limit %d is below the %d needed for %d open indexes; raise it with ulimit -n",
			limit.Cur, need, capacity)
		return c
	}

	c.OK = true
	c.Message = fmt.Sprintf("fd limit %d covers %d open indexes", limit.Cur, capacity)
	return c
}

func diskSpace(root string) Check {
	c := Check{Name: "disk_space"}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(root, &stat); err != nil {
		c.Message = fmt.Sprintf("cannot stat %s: %v", root, err)
		return c
	}

	free := stat.Bavail * uint64(stat.Bsize)
	if free < minFreeBytes {
		c.Message = fmt.Sprintf("only %d MiB free under %s", free/(1024*1024), root)
		return c
	}

	c.OK = true
	c.Message = fmt.Sprintf("%d MiB free under %s", free/(1024*1024), root)
	return c
}
