// Package panels keeps at most one UI panel per logical key and re-keys
// the reusable panels in place instead of recreating them.
package panels

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/pkg/types"
)

// Key identifies what a panel shows. List panels leave UID zero.
type Key struct {
	AccountID  string `json:"account_id"`
	FolderPath string `json:"folder_path"`
	UID        uint32 `json:"uid,omitempty"`
}

// Folder returns the list key of the folder k belongs to
func (k Key) Folder() Key {
	return Key{AccountID: k.AccountID, FolderPath: k.FolderPath}
}

// IsMessage reports whether k names a single message
func (k Key) IsMessage() bool {
	return k.UID != 0
}

func (k Key) String() string {
	if k.UID != 0 {
		return fmt.Sprintf("%s/%s#%d", k.AccountID, k.FolderPath, k.UID)
	}
	return k.AccountID + "/" + k.FolderPath
}

func (k Key) validate(message bool) error {
	if k.AccountID == "" || k.FolderPath == "" {
		return email.Validationf("account and folder are required")
	}
	if message && k.UID == 0 {
		return email.Validationf("uid is required")
	}
	return nil
}

// Kind is what a panel renders
type Kind string

const (
	KindList   Kind = "list"
	KindDetail Kind = "detail"
)

// Mode is how a panel is reused
type Mode string

const (
	// ModeActive is the single reusable list panel
	ModeActive Mode = "active"
	// ModeTab is a list panel pinned to its folder
	ModeTab Mode = "tab"
	// ModeWindow is a detail panel pinned to its message
	ModeWindow Mode = "window"
	// ModeSplit is the single reusable detail panel
	ModeSplit Mode = "split"
)

// State is a panel's lifecycle state
type State int

const (
	StateCreating State = iota
	StateReady
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	}
	return "disposed"
}

// Content is one rendering of a panel
type Content struct {
	Kind    Kind                 `json:"kind"`
	Key     Key                  `json:"key"`
	Title   string               `json:"title"`
	Page    *email.MessagePage   `json:"page,omitempty"`
	Message *types.MessageDetail `json:"message,omitempty"`
	// Embedded is set when a message is shown inside a list panel
	Embedded bool   `json:"embedded,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Surface is the UI side of a panel
type Surface interface {
	Render(c Content) error
	Reveal()
	Dispose()
}

// SurfaceFactory creates the UI surface for a new panel
type SurfaceFactory interface {
	NewSurface(p *Panel) (Surface, error)
}

// Panel is one UI surface and the key it currently shows
type Panel struct {
	id      string
	kind    Kind
	mode    Mode
	surface Surface

	mu         sync.Mutex
	key        Key
	state      State
	generation uint64
	offset     int
	embedded   *Key
}

func newPanel(kind Kind, mode Mode, key Key) *Panel {
	return &Panel{
		id:   uuid.NewString(),
		kind: kind,
		mode: mode,
		key:  key,
	}
}

// ID is the panel's stable identity, unchanged by re-keying
func (p *Panel) ID() string { return p.id }

func (p *Panel) Kind() Kind { return p.kind }

func (p *Panel) Mode() Mode { return p.mode }

// Key returns what the panel currently shows
func (p *Panel) Key() Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Offset is the list panel's current page offset
func (p *Panel) Offset() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// Embedded returns the message shown inside a list panel, if any
func (p *Panel) Embedded() (Key, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.embedded == nil {
		return Key{}, false
	}
	return *p.embedded, true
}

// Title is a short label for the panel's current key
func (p *Panel) Title() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return title(p.key)
}

func title(k Key) string {
	if k.UID != 0 {
		return fmt.Sprintf("Message %d (%s)", k.UID, k.FolderPath)
	}
	return fmt.Sprintf("%s (%s)", k.FolderPath, k.AccountID)
}

// begin starts a load and returns its generation. A newer load or a re-key
// makes older results stale.
func (p *Panel) begin() (uint64, Key, int, *Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	var embedded *Key
	if p.embedded != nil {
		k := *p.embedded
		embedded = &k
	}
	return p.generation, p.key, p.offset, embedded
}

// current reports whether gen is still the latest load of a live panel.
// On success the panel becomes ready.
func (p *Panel) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed || p.generation != gen {
		return false
	}
	p.state = StateReady
	return true
}
