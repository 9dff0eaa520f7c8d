package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func TestParse_ExpandsEnv(t *testing.T) {
	t.Setenv("MITASAT_TEST_TOKEN", "s3cret")
	t.Setenv("MITASAT_TEST_EMPTY", "")

	s := sample{Port: 1}
	data := []byte("name: ${MITASAT_TEST_EMPTY:-fallback}\ntoken: ${MITASAT_TEST_TOKEN:-unused}\n")
	if err := Parse(data, &s); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "fallback" || s.Token != "s3cret" || s.Port != 1 {
		t.Errorf("got %+v", s)
	}
}

func TestParse_Validates(t *testing.T) {
	var s sample
	err := Parse([]byte("port: 0\n"), &s)
	if err == nil || !strings.Contains(err.Error(), "validation failed") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()

	s := sample{Port: 8080}
	if err := LoadOptional(filepath.Join(dir, "missing.yaml"), &s); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if s.Port != 8080 {
		t.Errorf("defaults changed: %+v", s)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadOptional(path, &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Port != 9090 {
		t.Errorf("port = %d", s.Port)
	}

	if err := Load(filepath.Join(dir, "missing.yaml"), &s); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
