/*
Package mempool provides a process-wide allocator for callers that do not
want to manage an Allocator instance.

# Quick Start

	p, err := mempool.Alloc(128)
	if err != nil {
	    return err
	}
	defer mempool.Free(p)

# Byte Slices

	buf, err := mempool.Bytes(4096)
	if err != nil {
	    return err
	}
	defer mempool.FreeBytes(buf)

The default allocator is built on first use with pool.DefaultOptions and
lives for the rest of the process. Use pool.New directly when the arena
must be sized, trimmed or released.
*/
package mempool
