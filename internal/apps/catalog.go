// Package apps discovers installed applications and launches them by
// fuzzy name. Discovery is platform-aware: freedesktop .desktop entries
// and PATH executables on Linux, application bundles on macOS, Start
// Menu shortcuts on Windows. Matching uses a 0-100 similarity score so
// spoken or loosely-typed names like "notepad" or "vs code" resolve to
// the installed entry.
package apps

import (
	"bufio"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// App is one launchable application.
type App struct {
	// Name is the human-facing name used for matching.
	Name string `json:"name"`

	// Path is where the entry was discovered (desktop file, bundle,
	// shortcut, or executable).
	Path string `json:"path"`

	// Exec is the command line used to start the app. Empty means the
	// platform opener handles Path directly.
	Exec string `json:"exec,omitempty"`
}

// Catalog is a cached index of installed applications. The first call
// that needs the index scans the platform locations; Refresh rescans.
type Catalog struct {
	mu        sync.RWMutex
	apps      []App
	loaded    bool
	extraDirs []string
}

// NewCatalog creates a catalog. extraDirs are scanned in addition to
// the platform defaults.
func NewCatalog(extraDirs []string) *Catalog {
	return &Catalog{extraDirs: extraDirs}
}

// Apps returns the discovered applications, scanning on first use.
func (c *Catalog) Apps() []App {
	c.mu.RLock()
	if c.loaded {
		defer c.mu.RUnlock()
		return c.apps
	}
	c.mu.RUnlock()

	c.Refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apps
}

// Refresh rescans the platform application locations.
func (c *Catalog) Refresh() {
	apps := discover(c.extraDirs)

	c.mu.Lock()
	c.apps = apps
	c.loaded = true
	c.mu.Unlock()
}

// discover scans the platform-specific locations plus extraDirs and
// returns a deduplicated, name-sorted index.
func discover(extraDirs []string) []App {
	var apps []App

	switch runtime.GOOS {
	case "linux":
		for _, dir := range desktopEntryDirs() {
			apps = append(apps, scanDesktopDir(dir)...)
		}
		apps = append(apps, scanPathExecutables(os.Getenv("PATH"))...)
	case "darwin":
		dirs := []string{"/Applications", "/System/Applications"}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, filepath.Join(home, "Applications"))
		}
		for _, dir := range dirs {
			apps = append(apps, scanAppBundles(dir)...)
		}
	case "windows":
		for _, dir := range startMenuDirs() {
			apps = append(apps, scanShortcuts(dir)...)
		}
	}

	for _, dir := range extraDirs {
		apps = append(apps, scanDesktopDir(dir)...)
		apps = append(apps, scanAppBundles(dir)...)
		apps = append(apps, scanShortcuts(dir)...)
	}

	return dedupe(apps)
}

// dedupe keeps the first entry per lowercased name and sorts by name.
func dedupe(apps []App) []App {
	seen := make(map[string]bool, len(apps))
	out := apps[:0]
	for _, a := range apps {
		key := strings.ToLower(a.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func desktopEntryDirs() []string {
	dirs := []string{
		"/usr/share/applications",
		"/usr/local/share/applications",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "applications"))
	}
	return dirs
}

// scanDesktopDir reads freedesktop .desktop entries from dir.
func scanDesktopDir(dir string) []App {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var apps []App
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".desktop") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if app, ok := parseDesktopFile(path); ok {
			apps = append(apps, app)
		}
	}
	return apps
}

// parseDesktopFile extracts Name and Exec from a .desktop file. Hidden
// and NoDisplay entries are skipped, as are field codes (%f, %u, ...)
// in the Exec line.
func parseDesktopFile(path string) (App, bool) {
	f, err := os.Open(path)
	if err != nil {
		return App{}, false
	}
	defer f.Close()

	app := App{Path: path}
	inEntry := false

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "[Desktop Entry]":
			inEntry = true
		case strings.HasPrefix(line, "["):
			inEntry = false
		case !inEntry:
		case strings.HasPrefix(line, "Name=") && app.Name == "":
			app.Name = strings.TrimPrefix(line, "Name=")
		case strings.HasPrefix(line, "Exec=") && app.Exec == "":
			app.Exec = stripFieldCodes(strings.TrimPrefix(line, "Exec="))
		case line == "NoDisplay=true" || line == "Hidden=true":
			return App{}, false
		}
	}
	if app.Name == "" || app.Exec == "" {
		return App{}, false
	}
	return app, true
}

// stripFieldCodes removes %f/%F/%u/%U and friends from an Exec line.
func stripFieldCodes(exec string) string {
	fields := strings.Fields(exec)
	out := fields[:0]
	for _, f := range fields {
		if len(f) == 2 && f[0] == '%' {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// scanPathExecutables indexes executables on PATH. Names keep their
// file name so "firefox" on PATH matches the query "firefox".
func scanPathExecutables(pathEnv string) []App {
	var apps []App
	for _, dir := range filepath.SplitList(pathEnv) {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil || info.Mode()&0111 == 0 {
				continue
			}
			apps = append(apps, App{
				Name: e.Name(),
				Path: filepath.Join(dir, e.Name()),
				Exec: filepath.Join(dir, e.Name()),
			})
		}
	}
	return apps
}

// scanAppBundles indexes macOS .app bundles in dir.
func scanAppBundles(dir string) []App {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var apps []App
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".app")
		if !ok {
			continue
		}
		apps = append(apps, App{
			Name: name,
			Path: filepath.Join(dir, e.Name()),
		})
	}
	return apps
}

func startMenuDirs() []string {
	var dirs []string
	if appData := os.Getenv("APPDATA"); appData != "" {
		dirs = append(dirs, filepath.Join(appData, "Microsoft", "Windows", "Start Menu", "Programs"))
	}
	if programData := os.Getenv("PROGRAMDATA"); programData != "" {
		dirs = append(dirs, filepath.Join(programData, "Microsoft", "Windows", "Start Menu", "Programs"))
	}
	return dirs
}

// scanShortcuts indexes Windows .lnk shortcuts, recursing one level
// into Start Menu folders.
func scanShortcuts(dir string) []App {
	return scanShortcutsDepth(dir, 2)
}

func scanShortcutsDepth(dir string, depth int) []App {
	if depth == 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var apps []App
	for _, e := range entries {
		if e.IsDir() {
			apps = append(apps, scanShortcutsDepth(filepath.Join(dir, e.Name()), depth-1)...)
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), ".lnk")
		if !ok {
			continue
		}
		apps = append(apps, App{
			Name: name,
			Path: filepath.Join(dir, e.Name()),
		})
	}
	return apps
}
