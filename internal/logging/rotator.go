// Package logging provides structured logging with slog for keybox.
package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileRotator is an io.Writer that appends to a log file and rotates it
// by size and by calendar day. Rotated files are renamed with a timestamp
// suffix, optionally gzip compressed, and pruned by count and age.
type FileRotator struct {
	config *Config
	mu     sync.Mutex
	file   *os.File
	size   int64
	opened time.Time
}

// NewFileRotator creates a FileRotator, creating the log directory as
// needed.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	r := &FileRotator{config: cfg}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

// open opens or creates the active log file and records its size.
func (r *FileRotator) open() error {
	file, err := os.OpenFile(r.config.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	r.file = file
	r.size = info.Size()
	r.opened = time.Now()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.needsRotation(int64(len(p))) {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err = r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// needsRotation reports whether the next write of writeSize bytes should
// land in a fresh file. Rotation triggers on size and on day boundaries.
func (r *FileRotator) needsRotation(writeSize int64) bool {
	if maxBytes := r.config.MaxSize * 1024 * 1024; r.size+writeSize > maxBytes {
		return true
	}
	return r.opened.Day() != time.Now().Day()
}

// rotate archives the active file under a timestamped name and reopens a
// fresh one. Compression and retention pruning run in the background; they
// only touch already-archived files.
func (r *FileRotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
		r.file = nil
	}

	archived := r.archiveName(time.Now())
	if err := os.Rename(r.config.FilePath, archived); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.config.Compress {
		go compressFile(archived)
	}
	go r.prune()

	return r.open()
}

// archiveName builds the rotated filename, base-20060102-150405.ext next
// to the active file.
func (r *FileRotator) archiveName(now time.Time) string {
	dir := filepath.Dir(r.config.FilePath)
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, now.Format("20060102-150405"), ext))
}

// archivePattern matches every rotated file for the active log, compressed
// or not.
func (r *FileRotator) archivePattern() string {
	dir := filepath.Dir(r.config.FilePath)
	base := filepath.Base(r.config.FilePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, name+"-*"+ext+"*")
}

// compressFile gzips an archived log and removes the original. Failures
// leave the uncompressed file in place.
func compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	gz.ModTime = time.Now()

	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}

	os.Remove(path)
}

// prune removes archived logs beyond MaxBackups or older than MaxAge days.
func (r *FileRotator) prune() {
	matches, err := filepath.Glob(r.archivePattern())
	if err != nil {
		return
	}

	type archive struct {
		path    string
		modTime time.Time
	}
	archives := make([]archive, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		archives = append(archives, archive{path: match, modTime: info.ModTime()})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].modTime.Before(archives[j].modTime)
	})

	if excess := len(archives) - r.config.MaxBackups; excess > 0 {
		for _, a := range archives[:excess] {
			os.Remove(a.path)
		}
	}

	cutoff := time.Now().AddDate(0, 0, -r.config.MaxAge)
	for _, a := range archives {
		if a.modTime.Before(cutoff) {
			os.Remove(a.path)
		}
	}
}

// Close closes the rotator and its underlying file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes any buffered data to the file.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}

// Files returns the active log file plus every archived one.
func (r *FileRotator) Files() ([]string, error) {
	files := []string{r.config.FilePath}

	matches, err := filepath.Glob(r.archivePattern())
	if err != nil {
		return files, err
	}
	return append(files, matches...), nil
}
