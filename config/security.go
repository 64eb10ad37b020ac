package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits on configuration input. Relay configs are a few kilobytes.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

var configExtensions = map[string]bool{
	".json":  true,
	".jsonc": true,
	".yaml":  true,
	".yml":   true,
}

// checkConfigPath rejects unknown extensions and relative paths that leave
// the working directory.
func checkConfigPath(path string) error {
	if path == "" {
		return stderrors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if !configExtensions[strings.ToLower(filepath.Ext(path))] {
		return fmt.Errorf("unsupported config file type: %s", path)
	}
	if filepath.IsAbs(path) {
		return nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("cannot resolve absolute path: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("cannot get working directory: %w", err)
	}
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
	}
	return nil
}

// safeReadFile reads a regular config file of bounded size.
func safeReadFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file too large: more than %d bytes", maxConfigSize)
	}
	return data, nil
}

// validateEnvVar bounds override values and rejects NUL bytes.
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth walks the token stream and stops at maxJSONDepth. Syntax
// errors are left for json.Unmarshal to report.
func validateJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: more than %d levels", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
}
