//go:build !linux

package osmem

func (r *Region) hugePages() error {
	return nil
}
