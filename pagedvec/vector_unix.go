//go:build unix

package pagedvec

import (
	"os"

	"golang.org/x/sys/unix"
)

// unixBacking stores pages in an unlinked temporary file: the directory
// entry is removed immediately after open, so the space is reclaimed by the
// kernel as soon as the process exits or the file is closed, with no
// cleanup path to miss.
type unixBacking struct {
	f *os.File
}

func openBacking(name string) (backing, error) {
	f, err := os.CreateTemp("", "usbtrace-"+name+"-*.pv")
	if err != nil {
		return nil, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, err
	}
	return &unixBacking{f: f}, nil
}

func (b *unixBacking) Pread(p []byte, off int64) (int, error) {
	return unix.Pread(int(b.f.Fd()), p, off)
}

func (b *unixBacking) Pwrite(p []byte, off int64) (int, error) {
	return unix.Pwrite(int(b.f.Fd()), p, off)
}

func (b *unixBacking) Close() error {
	return b.f.Close()
}
