// Copyright 2026 The Deskstream Authors
// SPDX-License-Identifier: Apache-2.0

package compositor

import (
	"encoding/json"
	"sync"
)

// Window is one tracked surface. SurfaceRef
// is opaque to this package — it is whatever handle the renderer uses
// to address the underlying Wayland surface.
type Window struct {
	ID          int
	SurfaceRef  any
	Title       string
	AppID       string
	DisplayName string
	Focused     bool
	IsDialog    bool
}

// WindowRegistry assigns process-local, never-reused integer ids to
// windows and
// keeps them in creation order.
type WindowRegistry struct {
	mu     sync.Mutex
	nextID int
	order  []int
	byID   map[int]*Window
	dirty  bool
}

// NewWindowRegistry creates an empty registry.
func NewWindowRegistry() *WindowRegistry {
	return &WindowRegistry{byID: make(map[int]*Window)}
}

// Create allocates a new window id and registers the window. Dialogs
// keep their natural size and titlebar;
// that decision is made by the caller before calling Create — this
// registry only tracks the resulting record.
func (r *WindowRegistry) Create(surfaceRef any, isDialog bool) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	w := &Window{ID: r.nextID, SurfaceRef: surfaceRef, IsDialog: isDialog}
	r.byID[w.ID] = w
	r.order = append(r.order, w.ID)
	r.dirty = true
	return w
}

// Remove deletes a window by id, marking the taskbar dirty.
func (r *WindowRegistry) Remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.dirty = true
}

// Get returns the window with the given id, or nil.
func (r *WindowRegistry) Get(id int) *Window {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// SetAppInfo records a window's application id and its display name
// (resolved from the .desktop application database at creation),
// marking the taskbar dirty.
func (r *WindowRegistry) SetAppInfo(id int, appID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.byID[id]; ok && (w.AppID != appID || w.DisplayName != displayName) {
		w.AppID = appID
		w.DisplayName = displayName
		r.dirty = true
	}
}

// SetTitle updates a window's title, marking the taskbar dirty.
func (r *WindowRegistry) SetTitle(id int, title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.byID[id]; ok && w.Title != title {
		w.Title = title
		r.dirty = true
	}
}

// Focus sets exactly one window focused and every other window
// unfocused, so the next taskbar snapshot marks focused=true for this
// id alone. Focusing an id that doesn't exist is a no-op.
func (r *WindowRegistry) Focus(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	for _, existing := range r.order {
		w := r.byID[existing]
		wantFocused := existing == id
		if w.Focused != wantFocused {
			w.Focused = wantFocused
			r.dirty = true
		}
	}
}

// TakeDirty reports whether the registry changed since the last call
// and clears the flag.
func (r *WindowRegistry) TakeDirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.dirty
	r.dirty = false
	return d
}

// taskbarWindow is the JSON shape of one window in the taskbar
// snapshot.
type taskbarWindow struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	AppID       string `json:"app_id"`
	DisplayName string `json:"display_name"`
	Focused     bool   `json:"focused"`
}

type taskbarSnapshot struct {
	Windows []taskbarWindow `json:"windows"`
}

// TaskbarJSON builds the `{"windows":[...]}` payload in creation order.
func (r *WindowRegistry) TaskbarJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := taskbarSnapshot{Windows: make([]taskbarWindow, 0, len(r.order))}
	for _, id := range r.order {
		w := r.byID[id]
		snap.Windows = append(snap.Windows, taskbarWindow{
			ID:          w.ID,
			Title:       w.Title,
			AppID:       w.AppID,
			DisplayName: w.DisplayName,
			Focused:     w.Focused,
		})
	}
	return json.Marshal(snap)
}
