package pool

import (
	"errors"

	"github.com/joshuapare/allockit/pool/central"
	"github.com/joshuapare/allockit/pool/pagecache"
)

var (
	// ErrInvalidSize indicates a zero-byte (or negative) request.
	ErrInvalidSize = errors.New("pool: invalid allocation size")

	// ErrOutOfMemory indicates the arena is exhausted or the OS refused memory.
	ErrOutOfMemory = pagecache.ErrOutOfMemory

	// ErrCorruption is wrapped by the panic raised on a detected double free
	// or a pointer this allocator never returned.
	ErrCorruption = central.ErrCorruption

	// ErrClosed indicates an Allocator used after Close.
	ErrClosed = errors.New("pool: allocator closed")
)
