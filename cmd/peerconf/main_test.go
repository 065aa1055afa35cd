package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/eugenenazirov/peerconf/internal/overlay"
	"github.com/eugenenazirov/peerconf/internal/scripts"
)

type testDirs struct {
	config  string
	scripts string
}

func newTestDirs(t *testing.T, configs, units map[string]string) testDirs {
	t.Helper()

	root := t.TempDir()
	dirs := testDirs{
		config:  filepath.Join(root, "config"),
		scripts: filepath.Join(root, "startup_scripts"),
	}
	for dir, files := range map[string]map[string]string{dirs.config: configs, dirs.scripts: units} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		for name, content := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
				t.Fatalf("write %s: %v", name, err)
			}
		}
	}
	return dirs
}

// execute parses args like main does and runs the selected command.
func execute(t *testing.T, dirs testDirs, args ...string) (string, error) {
	t.Helper()

	c := newCLI()
	full := append([]string{"--config-dir", dirs.config, "--scripts-dir", dirs.scripts, "--log-level", "error"}, args...)
	command, err := c.app.Parse(full)
	if err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}

	var out bytes.Buffer
	err = c.run(context.Background(), command, &out)
	return out.String(), err
}

func TestSettingsList(t *testing.T) {
	dirs := newTestDirs(t, map[string]string{
		"configuration.yaml": "SECRET_KEY: main\nTIME_ZONE: UTC\n",
		"ldap.yaml":          "SECRET_KEY: ldap\n",
	}, nil)

	out, err := execute(t, dirs, "settings", "list")
	if err != nil {
		t.Fatalf("settings list returned error: %v", err)
	}

	if !hasRow(out, "SECRET_KEY", filepath.Join(dirs.config, "ldap.yaml")) {
		t.Fatalf("expected SECRET_KEY from ldap.yaml:\n%s", out)
	}
	if !hasRow(out, "TIME_ZONE", filepath.Join(dirs.config, "configuration.yaml")) {
		t.Fatalf("expected TIME_ZONE from configuration.yaml:\n%s", out)
	}
	if strings.Contains(out, " ldap ") || strings.Contains(out, " main ") {
		t.Fatalf("settings list must not print values:\n%s", out)
	}
}

// hasRow reports whether one rendered table line contains every cell.
func hasRow(out string, cells ...string) bool {
	for _, line := range strings.Split(out, "\n") {
		found := true
		for _, cell := range cells {
			if !strings.Contains(line, cell) {
				found = false
				break
			}
		}
		if found {
			return true
		}
	}
	return false
}

func TestSettingsGet(t *testing.T) {
	t.Setenv("PEERCONF_TEST_HOSTS", "a.example.com b.example.com")
	dirs := newTestDirs(t, map[string]string{
		"configuration.yaml": "ALLOWED_HOSTS: !env {name: PEERCONF_TEST_HOSTS, as: list}\nTIME_ZONE: UTC\n",
		"extra.yaml":         "TIME_ZONE: Europe/Paris\n",
	}, nil)

	out, err := execute(t, dirs, "settings", "get", "ALLOWED_HOSTS")
	if err != nil {
		t.Fatalf("settings get returned error: %v", err)
	}
	if out != "- a.example.com\n- b.example.com\n" {
		t.Fatalf("unexpected output:\n%s", out)
	}

	out, err = execute(t, dirs, "settings", "get", "TIME_ZONE", "--origin")
	if err != nil {
		t.Fatalf("settings get --origin returned error: %v", err)
	}
	for _, want := range []string{
		"origin: " + filepath.Join(dirs.config, "extra.yaml"),
		"- " + filepath.Join(dirs.config, "configuration.yaml"),
		"value: Europe/Paris",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}

	if _, err := execute(t, dirs, "settings", "get", "NOT_DEFINED"); !errors.Is(err, overlay.ErrAttributeNotFound) {
		t.Fatalf("expected attribute not found, got %v", err)
	}
}

func TestSettingsWithoutConfiguration(t *testing.T) {
	dirs := newTestDirs(t, nil, nil)

	if _, err := execute(t, dirs, "settings", "list"); !errors.Is(err, overlay.ErrNoConfiguration) {
		t.Fatalf("expected no configuration error, got %v", err)
	}
}

func TestScriptsRun(t *testing.T) {
	dirs := newTestDirs(t, map[string]string{
		"configuration.yaml": "SECRET_KEY: x\n",
	}, map[string]string{
		"000_users.yaml":  "kind: users\nitems:\n  admin:\n    password: admin\n",
		"010_groups.yaml": "kind: groups\nitems: {}\n",
		"020_tags.yaml":   "kind: tags\nitems:\n  - name: Transit\n    color: red\n",
	})

	out, err := execute(t, dirs, "scripts", "run")
	if err != nil {
		t.Fatalf("scripts run returned error: %v\n%s", err, out)
	}
	if !hasRow(out, "000_users.yaml", "users", string(scripts.StateCompleted)) ||
		!hasRow(out, "010_groups.yaml", "groups", string(scripts.StateSoftSkipped)) ||
		!hasRow(out, "020_tags.yaml", "tags", string(scripts.StateCompleted)) {
		t.Fatalf("unexpected report:\n%s", out)
	}
}

func TestScriptsRunFailure(t *testing.T) {
	dirs := newTestDirs(t, map[string]string{
		"configuration.yaml": "SECRET_KEY: x\n",
	}, map[string]string{
		"000_groups.yaml": "kind: groups\nitems:\n  operators:\n    users: [ghost]\n",
		"010_tags.yaml":   "kind: tags\nitems:\n  - name: Transit\n",
	})

	out, err := execute(t, dirs, "scripts", "run")
	var failure *scripts.FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected failure error, got %v", err)
	}
	if !hasRow(out, "000_groups.yaml", string(scripts.StateFailed)) || !hasRow(out, "010_tags.yaml", string(scripts.StatePending)) {
		t.Fatalf("expected failed and pending scripts in report:\n%s", out)
	}
}

func TestCheckRedis(t *testing.T) {
	tasks := miniredis.RunT(t)
	caching := miniredis.RunT(t)

	config := "REDIS:\n" +
		"  tasks:\n    HOST: " + tasks.Host() + "\n    PORT: " + tasks.Port() + "\n" +
		"  caching:\n    HOST: " + caching.Host() + "\n    PORT: " + caching.Port() + "\n    DATABASE: 1\n"
	dirs := newTestDirs(t, map[string]string{"configuration.yaml": config}, nil)

	out, err := execute(t, dirs, "check", "redis")
	if err != nil {
		t.Fatalf("check redis returned error: %v", err)
	}
	if out != "tasks: ok\ncaching: ok\n" {
		t.Fatalf("unexpected output:\n%s", out)
	}

	caching.Close()
	out, err = execute(t, dirs, "check", "redis", "--timeout", "500ms")
	if err == nil {
		t.Fatalf("expected error once caching server is down")
	}
	if !strings.HasPrefix(out, "tasks: ok\ncaching: FAILED") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
