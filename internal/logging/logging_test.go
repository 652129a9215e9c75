package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput(&buf, "DEBUG", "json")
	if err != nil {
		t.Fatalf("NewWithOutput failed: %v", err)
	}
	if l.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", l.GetLevel())
	}

	l.WithField("subject", "p-1").Info("hello")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected a JSON line, got %q: %v", buf.String(), err)
	}
	if entry["subject"] != "p-1" || entry["msg"] != "hello" {
		t.Errorf("Unexpected entry: %v", entry)
	}
}

func TestNewWithOutput_Errors(t *testing.T) {
	if _, err := NewWithOutput(&bytes.Buffer{}, "loud", "text"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
	if _, err := NewWithOutput(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Error("Expected an error for an unknown format")
	}
}
