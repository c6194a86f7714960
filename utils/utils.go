package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GetEnv returns the value of an environment variable,
// or the fallback if it is unset or empty.
func GetEnv(key string, fallback ...string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

// CreateFolder creates a directory (and parents) if it doesn't exist.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %v", path, err)
	}
	return nil
}

// MoveFile renames src to dst, falling back to copy+delete when the
// rename crosses filesystems.
func MoveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("couldn't open source file: %v", err)
	}

	out, err := os.Create(dst)
	if err != nil {
		in.Close()
		return fmt.Errorf("couldn't create destination file: %v", err)
	}

	_, err = io.Copy(out, in)
	in.Close()
	if err != nil {
		out.Close()
		return fmt.Errorf("couldn't copy to destination file: %v", err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("couldn't close destination file: %v", err)
	}

	return os.Remove(src)
}

// GenerateSessionID returns a new opaque session identifier.
func GenerateSessionID() string {
	return uuid.NewString()
}

// IsValidSessionID reports whether s looks like an identifier we issued.
// Used to reject path-traversal attempts before touching the filesystem.
func IsValidSessionID(s string) bool {
	if s == "" || strings.ContainsAny(s, "/\\.") {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
