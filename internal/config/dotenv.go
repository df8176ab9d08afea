package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// LoadDotEnv reads KEY=VALUE files in order and returns the ones it found.
// Variables already present in the process environment are never overwritten,
// so an earlier file wins over a later one. Unquoted and double-quoted values
// expand ${VAR} references against the environment as loaded so far.
func LoadDotEnv(paths ...string) ([]string, error) {
	loaded := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		err := loadDotEnvFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("load %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}
	return loaded, nil
}

func loadDotEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseDotEnvLine(line string) (string, string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, raw, ok := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	return key, parseDotEnvValue(raw), true
}

func parseDotEnvValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	switch quote := trimmed[0]; {
	case quote == '\'' && len(trimmed) >= 2 && trimmed[len(trimmed)-1] == '\'':
		return trimmed[1 : len(trimmed)-1]
	case quote == '"' && len(trimmed) >= 2 && trimmed[len(trimmed)-1] == '"':
		unescaped := strings.NewReplacer(
			`\\`, `\`,
			`\n`, "\n",
			`\t`, "\t",
			`\"`, `"`,
		).Replace(trimmed[1 : len(trimmed)-1])
		return os.ExpandEnv(unescaped)
	}

	// VALUE # comment
	if index := strings.Index(trimmed, " #"); index >= 0 {
		trimmed = strings.TrimSpace(trimmed[:index])
	}
	return os.ExpandEnv(trimmed)
}
