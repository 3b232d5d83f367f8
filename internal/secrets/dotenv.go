package secrets

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/storybook/internal/storage"
)

// SetEntry writes or updates a KEY=VALUE line in a .env file. Comments,
// ordering and blank lines are kept; a new key is appended.
func SetEntry(path, key, value string) error {
	if key == "" || strings.ContainsAny(key, "= \t\n") {
		return fmt.Errorf("invalid key %q", key)
	}
	quoted, err := quoteValue(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read dotenv: %w", err)
	}

	newLine := key + "=" + quoted
	found := false
	for i, line := range lines {
		if lineKey(line) == key {
			lines[i] = newLine
			found = true
			break
		}
	}
	if !found {
		lines = append(lines, newLine)
	}

	content := strings.Join(lines, "\n") + "\n"
	return storage.WriteFileAtomic(path, []byte(content), 0o600)
}

// Keys lists the keys defined in a .env file with whether each value is
// encrypted.
func Keys(path string) (map[string]bool, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, line := range lines {
		k := lineKey(line)
		if k == "" {
			continue
		}
		_, v, _ := strings.Cut(line, "=")
		out[k] = IsEncrypted(strings.Trim(strings.TrimSpace(v), `"'`))
	}
	return out, nil
}

func lineKey(line string) string {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return ""
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	k, _, ok := strings.Cut(trimmed, "=")
	if !ok {
		return ""
	}
	return strings.TrimSpace(k)
}

// readLines reads all lines of a file; a missing file has none.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

// quoteValue wraps values containing blanks or shell-ish characters. The
// reader strips one pair of quotes without unescaping, so a value holding
// both quote kinds cannot be written.
func quoteValue(v string) (string, error) {
	if strings.ContainsAny(v, "\n\r") {
		return "", fmt.Errorf("value contains a newline")
	}
	if !strings.ContainsAny(v, " \t\"'\\#$") {
		return v, nil
	}
	switch {
	case !strings.Contains(v, `"`):
		return `"` + v + `"`, nil
	case !strings.Contains(v, "'"):
		return "'" + v + "'", nil
	default:
		return "", fmt.Errorf("value contains both quote characters")
	}
}
