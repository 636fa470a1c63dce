package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

func writeJSON(payload any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
