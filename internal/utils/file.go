package utils

import (
	"bufio"
	"os"
	"strings"
)

// ReadIDsFromFile reads transaction IDs from a file, one per line. Blank
// lines and lines starting with # are ignored.
func ReadIDsFromFile(filePath string) ([]string, error) {
	var ids []string
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close() // nolint:errcheck // read only

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" && !strings.HasPrefix(id, "#") {
			ids = append(ids, id)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// IsFilePath reports whether input names an existing regular file
func IsFilePath(input string) bool {
	if input == "" {
		return false
	}
	info, err := os.Stat(input)
	return err == nil && info.Mode().IsRegular()
}
