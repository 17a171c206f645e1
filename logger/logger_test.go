package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitJSON(t *testing.T) {
	if err := Init(Settings{Format: "json", Level: "debug"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	SetOutput(&buf)
	WithFields(Fields{"module": "logger.test", "job_id": "j"}).Info("hello")
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("not json: %s", buf.String())
	}
	if out["module"] != "logger.test" || out["msg"] != "hello" {
		t.Fatalf("got %v", out)
	}
	if GetLevel() != logrus.DebugLevel {
		t.Fatal("level")
	}
}

func TestInitBadLevel(t *testing.T) {
	if err := Init(Settings{Level: "loud"}); err == nil {
		t.Fatal("expect error")
	}
}

func TestInitFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "zkpool.log")
	if err := Init(Settings{Format: "text", Level: "info", Filename: name}); err != nil {
		t.Fatal(err)
	}
	SetOutput(&bytes.Buffer{})
	Info("to file")
	if _, err := os.Lstat(name); err != nil {
		t.Fatalf("link not created: %v", err)
	}
}
