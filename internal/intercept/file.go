package intercept

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ppiankov/merklerun/internal/audit"
	"github.com/ppiankov/merklerun/internal/capability"
)

// hashChunkSize bounds memory while hashing files opened for reading.
const hashChunkSize = 1 << 20

type fileSystem struct {
	real capability.FileSystem
	rec  Recorder
}

// OpenFile records the open and returns the real handle, or a hashing
// handle when the file is opened for writing, appending or exclusive
// creation. Readable existing files are hashed in full before the open.
func (f *fileSystem) OpenFile(name string, flag int, perm fs.FileMode) (capability.File, error) {
	path := absPath(name)
	mode := Mode(flag)

	if err := f.recordOpen(path, mode); err != nil {
		return nil, err
	}

	file, err := f.real.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if IsWriteMode(mode) {
		return &writeShim{File: file, path: path, rec: f.rec, hash: sha256.New()}, nil
	}
	return file, nil
}

// Stat passes through unrecorded.
func (f *fileSystem) Stat(name string) (fs.FileInfo, error) {
	return f.real.Stat(name)
}

func (f *fileSystem) recordOpen(path, mode string) error {
	if IsReadMode(mode) {
		if size, sum, err := hashFile(f.real, path); err == nil {
			_, err := f.rec.Append(audit.KindFileOpenRead, audit.Fields{
				"path":   path,
				"mode":   mode,
				"bytes":  size,
				"sha256": sum,
			})
			return err
		}
	}
	_, err := f.rec.Append(audit.KindFileOpen, audit.Fields{"path": path, "mode": mode})
	return err
}

// hashFile streams path through SHA-256 in fixed-size chunks.
func hashFile(fsys capability.FileSystem, path string) (int64, string, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, "", err
	}
	if !info.Mode().IsRegular() {
		return 0, "", errors.New("not a regular file")
	}

	file, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	var size int64
	for {
		n, err := file.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			size += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, "", err
		}
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// writeShim accumulates a running hash and byte count over every write
// and records file_write_close exactly once on Close. Reads, seeks and
// syncs pass through.
type writeShim struct {
	capability.File
	path    string
	rec     Recorder
	mu      sync.Mutex
	hash    hash.Hash
	written int64
	closed  bool
}

func (w *writeShim) Write(p []byte) (int, error) {
	n, err := w.File.Write(p)
	w.mu.Lock()
	w.hash.Write(p[:n])
	w.written += int64(n)
	w.mu.Unlock()
	return n, err
}

// WriteString encodes s to bytes so text and binary payloads hash alike.
func (w *writeShim) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *writeShim) Close() error {
	closeErr := w.File.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return closeErr
	}
	w.closed = true

	_, recErr := w.rec.Append(audit.KindFileWriteClose, audit.Fields{
		"path":   w.path,
		"bytes":  w.written,
		"sha256": hex.EncodeToString(w.hash.Sum(nil)),
	})
	return errors.Join(closeErr, recErr)
}

// Mode renders os.OpenFile flags as an fopen-style mode string:
// r, r+, w, w+, a, a+, x or x+. A read-write open that neither truncates
// nor appends keeps existing content readable and is r+.
func Mode(flag int) string {
	access := flag & (os.O_WRONLY | os.O_RDWR)

	var mode string
	switch {
	case flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0:
		mode = "x"
	case flag&os.O_APPEND != 0:
		mode = "a"
	case flag&os.O_TRUNC != 0, access == os.O_WRONLY:
		mode = "w"
	case access == os.O_RDWR:
		return "r+"
	default:
		return "r"
	}
	if access == os.O_RDWR {
		mode += "+"
	}
	return mode
}

// IsReadMode reports whether mode is read-oriented.
func IsReadMode(mode string) bool {
	return strings.HasPrefix(mode, "r")
}

// IsWriteMode reports whether mode writes, appends or exclusively creates.
func IsWriteMode(mode string) bool {
	return strings.HasPrefix(mode, "w") || strings.HasPrefix(mode, "a") || strings.HasPrefix(mode, "x")
}

// absPath records paths independently of the working directory.
func absPath(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return filepath.Clean(name)
	}
	return abs
}
