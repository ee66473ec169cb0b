package gateway

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// System performs the privileged file and proxy operations that site
// changes need. Implementations write into the proxy's sites directory
// and reload the proxy process.
type System interface {
	// ReadFile returns the contents of the named site file. ok is false
	// when the file does not exist.
	ReadFile(name string) (content string, ok bool, err error)
	// WriteFile replaces the named site file atomically.
	WriteFile(name, content string) error
	// Remove deletes the named site file. Removing a missing file is not
	// an error.
	Remove(name string) error
	// Reload makes the proxy pick up the current sites directory. When a
	// reload fails the proxy keeps serving its previous configuration.
	Reload() error
}

// LocalSystem manages site files with plain filesystem access, for setups
// where the process owns the sites directory. ReloadCommand is run after
// writes; when empty, reloads are a no-op.
type LocalSystem struct {
	Dir           string
	ReloadCommand []string
}

func (s *LocalSystem) path(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *LocalSystem) ReadFile(name string) (string, bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *LocalSystem) WriteFile(name, content string) error {
	tmp, err := os.CreateTemp(s.Dir, ".site-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *LocalSystem) Remove(name string) error {
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalSystem) Reload() error {
	if len(s.ReloadCommand) == 0 {
		return nil
	}
	return runCommand(s.ReloadCommand[0], s.ReloadCommand[1:]...)
}

// SudoSystem manages an nginx sites directory owned by root, using sudo
// for writes and systemctl for reloads. The host must grant the process
// passwordless sudo for cp, rm and systemctl.
type SudoSystem struct {
	Dir string
}

func (s *SudoSystem) path(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *SudoSystem) ReadFile(name string) (string, bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

func (s *SudoSystem) WriteFile(name, content string) error {
	tmp, err := os.CreateTemp("", "windrose-site-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return runCommand("sudo", "cp", tmp.Name(), s.path(name))
}

func (s *SudoSystem) Remove(name string) error {
	if _, err := os.Stat(s.path(name)); os.IsNotExist(err) {
		return nil
	}
	return runCommand("sudo", "rm", s.path(name))
}

func (s *SudoSystem) Reload() error {
	return runCommand("sudo", "systemctl", "reload", "nginx.service")
}

func runCommand(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
