// Package tray wraps getlantern/systray into the handful of operations
// the Operator Console needs: a status line that tracks the Automating
// snapshot, and a couple of action items (Emergency Stop, Quit).
package tray

import (
	"github.com/getlantern/systray"
)

// menuEntry is either a clickable item (callback != nil), a pure status
// label (callback == nil, updated only via SetItemTitle/SetItemChecked),
// or a separator (nil entry in Tray.entries).
type menuEntry struct {
	title    string
	callback func()
	item     *systray.MenuItem
}

// Tray is the Operator Console's system tray icon: an Automating status
// line plus Emergency Stop and Quit.
type Tray struct {
	entries []*menuEntry
	onReady func()
	onExit  func()
	readyCh chan struct{}
	quitCh  chan struct{}
}

// New builds a tray with the given tooltip. Callers add items with
// AddMenuItem/AddSeparator before calling Run.
func New(tooltip string) *Tray {
	t := &Tray{
		readyCh: make(chan struct{}),
		quitCh:  make(chan struct{}),
	}

	t.onReady = func() {
		systray.SetTitle("Coordinator")
		systray.SetTooltip(tooltip)
		systray.SetIcon(injectorIcon())
		close(t.readyCh)
	}
	t.onExit = func() {
		close(t.quitCh)
	}
	return t
}

// AddMenuItem registers a menu item and returns a handle for later
// SetItemTitle/SetItemChecked calls. callback may be nil for a
// status-only line such as the Automating indicator.
func (t *Tray) AddMenuItem(title string, callback func()) int {
	id := len(t.entries)
	t.entries = append(t.entries, &menuEntry{title: title, callback: callback})
	return id
}

// AddSeparator adds a visual separator below the last item.
func (t *Tray) AddSeparator() {
	t.entries = append(t.entries, nil)
}

// SetItemChecked toggles the checkmark next to an item, used here to
// mirror the Automating snapshot's running/idle state.
func (t *Tray) SetItemChecked(id int, checked bool) {
	e := t.entryAt(id)
	if e == nil || e.item == nil {
		return
	}
	if checked {
		e.item.Check()
	} else {
		e.item.Uncheck()
	}
}

// SetItemTitle rewrites an item's label in place, used to surface
// lastAction/lastError text on the Automating status line without
// rebuilding the menu.
func (t *Tray) SetItemTitle(id int, title string) {
	e := t.entryAt(id)
	if e == nil || e.item == nil {
		return
	}
	e.item.SetTitle(title)
}

func (t *Tray) entryAt(id int) *menuEntry {
	if id < 0 || id >= len(t.entries) {
		return nil
	}
	return t.entries[id]
}

// Run starts the tray event loop. Blocks until Stop is called.
func (t *Tray) Run() {
	systray.Run(t.setupMenu, t.onExit)
}

func (t *Tray) setupMenu() {
	t.onReady()
	<-t.readyCh

	for _, e := range t.entries {
		if e == nil {
			systray.AddSeparator()
			continue
		}
		e.item = systray.AddMenuItem(e.title, "")
		if e.callback == nil {
			continue
		}
		go func(e *menuEntry) {
			for {
				select {
				case <-e.item.ClickedCh:
					e.callback()
				case <-t.quitCh:
					return
				}
			}
		}(e)
	}
}

// Stop tears down the tray icon and unblocks Run.
func (t *Tray) Stop() {
	systray.Quit()
}

// injectorIcon returns a placeholder 16x16 ICO. The Operator Console
// has no bundled asset pipeline, so the icon is a minimal valid header
// with a transparent body rather than a shipped image file.
func injectorIcon() []byte {
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00, // Size: 1024 (pixels) + 40 (header) + 32 (mask) = 1096 bytes
		0x16, 0x00, 0x00, 0x00, // Offset
	})
	// DIB Header
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00, // Size
		0x10, 0x00, 0x00, 0x00, // Width
		0x20, 0x00, 0x00, 0x00, // Height (16 * 2 for icon)
		0x01, 0x00, // Planes
		0x20, 0x00, // BPP
		0x00, 0x00, 0x00, 0x00, // Compression
		0x00, 0x04, 0x00, 0x00, // Image Size
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	})
	// The rest (pixels and mask) can stay 0 for transparency
	return icon
}
