//go:build windows

package pagedvec

import "os"

// winBacking stores pages in a temporary file. Windows does not let an
// open file be unlinked out from under itself the way unix does, so the
// directory entry is removed on Close instead.
type winBacking struct {
	f *os.File
}

func openBacking(name string) (backing, error) {
	f, err := os.CreateTemp("", "usbtrace-"+name+"-*.pv")
	if err != nil {
		return nil, err
	}
	return &winBacking{f: f}, nil
}

func (b *winBacking) Pread(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *winBacking) Pwrite(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

func (b *winBacking) Close() error {
	name := b.f.Name()
	if err := b.f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
