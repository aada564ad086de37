// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// displayNameCache memoizes .desktop lookups; the application database
// does not change within a window's lifetime often enough to matter.
var displayNameCache sync.Map // appID → string

// ResolveDisplayName maps a Wayland app_id to a human-readable name via
// the XDG .desktop application database. An app_id with no matching
// entry resolves to itself.
func ResolveDisplayName(appID string) string {
	if appID == "" {
		return ""
	}
	if cached, ok := displayNameCache.Load(appID); ok {
		return cached.(string)
	}
	name := lookupDesktopName(appID)
	displayNameCache.Store(appID, name)
	return name
}

func lookupDesktopName(appID string) string {
	for _, dir := range applicationDirs() {
		path := filepath.Join(dir, appID+".desktop")
		if name := desktopEntryName(path); name != "" {
			return name
		}
	}
	return appID
}

// applicationDirs lists the XDG application directories, most specific
// first.
func applicationDirs() []string {
	var dirs []string
	if home := os.Getenv("XDG_DATA_HOME"); home != "" {
		dirs = append(dirs, filepath.Join(home, "applications"))
	} else if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "share", "applications"))
	}
	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, dir := range strings.Split(dataDirs, ":") {
		if dir != "" {
			dirs = append(dirs, filepath.Join(dir, "applications"))
		}
	}
	return dirs
}

// desktopEntryName extracts the Name key of a .desktop file's
// [Desktop Entry] group, or "" if the file is missing or has none.
func desktopEntryName(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	inEntry := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "["):
			inEntry = line == "[Desktop Entry]"
		case inEntry && strings.HasPrefix(line, "Name="):
			return strings.TrimPrefix(line, "Name=")
		}
	}
	return ""
}
