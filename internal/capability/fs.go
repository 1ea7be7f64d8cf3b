package capability

import (
	"io"
	"io/fs"
	"os"
)

// File is the handle returned by a FileSystem. *os.File satisfies it.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	WriteString(s string) (int, error)
	Name() string
	Stat() (fs.FileInfo, error)
	Sync() error
}

// FileSystem opens files. Flags and permissions follow os.OpenFile.
type FileSystem interface {
	OpenFile(name string, flag int, perm fs.FileMode) (File, error)
	Stat(name string) (fs.FileInfo, error)
}

// OS is the real file system.
type OS struct{}

// OpenFile opens name with os.OpenFile.
func (OS) OpenFile(name string, flag int, perm fs.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Stat returns os.Stat of name.
func (OS) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}
