package demotools

import (
	"encoding/json"
	"os"
	"path/filepath"
)

func mustUnmarshal(schemaJSON string) any {
	var v any
	if err := json.Unmarshal([]byte(schemaJSON), &v); err != nil {
		panic(err)
	}
	return v
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
