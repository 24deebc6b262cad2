package logs

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInit_Levels(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"WARN", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if err := Init(Options{Level: tt.level}); err != nil {
				t.Fatalf("Init: %v", err)
			}
			if Logger.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", Logger.GetLevel(), tt.want)
			}
		})
	}
}

func TestInit_JSONFormat(t *testing.T) {
	if err := Init(Options{Format: "json"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := Logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("formatter = %T, want *logrus.JSONFormatter", Logger.Formatter)
	}
}

func TestInit_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	if err := Init(Options{File: path}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := Init(Options{File: filepath.Join(t.TempDir(), "missing", "app.log")}); err == nil {
		t.Error("Init should fail for an unwritable path")
	}
}
