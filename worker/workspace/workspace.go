// Package workspace owns the on-disk layout of tasks:
// <root>/<task id>/input holds uploads for the duration of one pipeline run,
// <root>/<task id>/output holds results until the reaper removes the task.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	inputDir  = "input"
	outputDir = "output"
)

var (
	ErrInvalidTaskID   = errors.New("invalid task id")
	ErrInvalidFilename = errors.New("invalid filename")
)

type Manager struct {
	root      string
	urlPrefix string
}

// NewManager creates root if needed. urlPrefix is the public path the output
// areas are served under, e.g. "/tasks_storage".
func NewManager(root, urlPrefix string) (*Manager, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Manager{
		root:      root,
		urlPrefix: "/" + strings.Trim(urlPrefix, "/"),
	}, nil
}

func (m *Manager) Root() string {
	return m.root
}

type Workspace struct {
	ID        string
	Dir       string
	InputDir  string
	OutputDir string
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func (m *Manager) Open(id string) (*Workspace, error) {
	if !validID(id) {
		return nil, ErrInvalidTaskID
	}
	dir := filepath.Join(m.root, id)
	return &Workspace{
		ID:        id,
		Dir:       dir,
		InputDir:  filepath.Join(dir, inputDir),
		OutputDir: filepath.Join(dir, outputDir),
	}, nil
}

// Create makes both areas of a new task.
func (m *Manager) Create(id string) (*Workspace, error) {
	ws, err := m.Open(id)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{ws.InputDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return ws, nil
}

// SanitizeFilename strips any directory components a client may have sent.
func SanitizeFilename(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "", ErrInvalidFilename
	}
	return name, nil
}

func (ws *Workspace) SaveInput(name string, data []byte) error {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ws.InputDir, clean), data, 0644)
}

// InputFiles lists regular files in the input area, sorted by name.
func (ws *Workspace) InputFiles() ([]string, error) {
	entries, err := os.ReadDir(ws.InputDir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(ws.InputDir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func (ws *Workspace) WriteOutput(name string, data []byte) error {
	clean, err := SanitizeFilename(name)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(ws.OutputDir, clean), data, 0644)
}

// RemoveInput deletes the input area. The task directory keeps its original
// modification time, which the reaper reads as the creation time.
func (ws *Workspace) RemoveInput() error {
	info, err := os.Stat(ws.Dir)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ws.InputDir); err != nil {
		return err
	}
	return os.Chtimes(ws.Dir, time.Time{}, info.ModTime())
}

func (m *Manager) OutputURL(id, name string) string {
	return path.Join(m.urlPrefix, id, outputDir, name)
}

type Entry struct {
	ID      string
	ModTime time.Time
}

// List returns every task directory under root with its modification time.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		out = append(out, Entry{ID: entry.Name(), ModTime: info.ModTime()})
	}
	return out, nil
}

// Remove deletes a task directory with both of its areas.
func (m *Manager) Remove(id string) error {
	ws, err := m.Open(id)
	if err != nil {
		return err
	}
	return os.RemoveAll(ws.Dir)
}

// UniqueName returns name, or name with "_<n>" before its extension, such
// that the result is not in used. The result is added to used.
func UniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
	}
	used[candidate] = true
	return candidate
}
