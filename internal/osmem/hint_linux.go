//go:build linux

package osmem

import "golang.org/x/sys/unix"

func (r *Region) hugePages() error {
	return unix.Madvise(r.span(0, r.size), unix.MADV_HUGEPAGE)
}
