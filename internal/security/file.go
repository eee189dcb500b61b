package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// File permission constants
const (
	// PermSecretFile is the permission for files containing secrets (owner read/write only)
	PermSecretFile os.FileMode = 0600

	// PermSecretDir is the permission for directories containing secrets
	PermSecretDir os.FileMode = 0700

	// PermPublicFile is the permission for non-secret files
	PermPublicFile os.FileMode = 0644
)

// File operation errors
var (
	ErrInsecurePermissions = errors.New("security: insecure file permissions")
	ErrAtomicWriteFailed   = errors.New("security: atomic write failed")
	ErrTempFileFailed      = errors.New("security: temporary file creation failed")
	ErrFileTooLarge        = errors.New("security: file exceeds maximum size")
)

// SecureFileWriter handles atomic file writes with secure permissions.
// Data is written to a temporary file first, then renamed into place.
type SecureFileWriter struct {
	path     string
	tempFile *os.File
	tempPath string
}

// NewSecureFileWriter creates a writer for secure atomic file writes.
func NewSecureFileWriter(path string, perm os.FileMode) (*SecureFileWriter, error) {
	cleanPath := filepath.Clean(path)

	dir := filepath.Dir(cleanPath)
	if err := os.MkdirAll(dir, PermSecretDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	// Temporary file lives in the same directory so the rename is atomic.
	tempPath := cleanPath + ".tmp." + randomSuffix()
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempFileFailed, err)
	}

	return &SecureFileWriter{
		path:     cleanPath,
		tempFile: tempFile,
		tempPath: tempPath,
	}, nil
}

// Write writes data to the temporary file.
func (w *SecureFileWriter) Write(p []byte) (n int, err error) {
	return w.tempFile.Write(p)
}

// Commit atomically moves the temporary file to the final path.
func (w *SecureFileWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}

	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}

	return nil
}

// Abort cancels the write and removes the temporary file.
func (w *SecureFileWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

// randomSuffix generates a random suffix for temporary files.
func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteSecureFile writes data to a file atomically with the given permissions.
func WriteSecureFile(path string, data []byte, perm os.FileMode) error {
	writer, err := NewSecureFileWriter(path, perm)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Abort()
		return err
	}

	return writer.Commit()
}

// WriteSecretFile writes data to a file with secret permissions (0600).
func WriteSecretFile(path string, data []byte) error {
	return WriteSecureFile(path, data, PermSecretFile)
}

// ReadSecretFile reads a file and verifies its permissions are secure.
// It returns an error if the file is group or world accessible.
func ReadSecretFile(path string, maxSize int64) ([]byte, error) {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, err
	}

	// Windows has no Unix permission bits to check.
	if runtime.GOOS != "windows" {
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			return nil, fmt.Errorf("%w: file %s has mode %04o, expected %04o",
				ErrInsecurePermissions, cleanPath, mode, PermSecretFile)
		}
	}

	if maxSize > 0 && info.Size() > maxSize {
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, info.Size(), maxSize)
	}

	return os.ReadFile(cleanPath)
}

// EnsureSecureDir ensures a directory exists with secret permissions.
func EnsureSecureDir(path string) error {
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(cleanPath, PermSecretDir)
		}
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("security: %s is not a directory", cleanPath)
	}

	if runtime.GOOS != "windows" {
		mode := info.Mode().Perm()
		if mode&0077 != 0 {
			if err := os.Chmod(cleanPath, PermSecretDir); err != nil {
				return fmt.Errorf("fix directory permissions: %w", err)
			}
		}
	}

	return nil
}
