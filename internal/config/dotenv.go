package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ValueDecoder transforms a raw .env value before it is exported.
// The secrets package supplies one that opens ENC[age:...] payloads.
type ValueDecoder func(key, value string) (string, error)

// LoadDotenv exports the KEY=VALUE pairs of a .env file into the process
// environment. Variables already present in the environment are kept. A
// missing file is not an error. When decode is non-nil every value passes
// through it; a decode failure aborts loading and names the offending key.
func LoadDotenv(path string, decode ValueDecoder) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open dotenv: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok := parseDotenvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if decode != nil {
			value, err = decode(key, value)
			if err != nil {
				return fmt.Errorf("dotenv %s line %d (%s): %w", path, lineNo, key, err)
			}
		}
		os.Setenv(key, value)
	}
	return scanner.Err()
}

// parseDotenvLine splits one line. Blank lines, comments and lines without
// '=' are skipped. An optional "export " prefix is accepted.
func parseDotenvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	return key, unquote(strings.TrimSpace(value)), true
}

// unquote strips matching surrounding quotes (single or double).
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
