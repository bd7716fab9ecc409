package panels

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailview/internal/config"
	"github.com/brandon/mailview/internal/email"
	"github.com/brandon/mailview/pkg/types"
)

// Loader fetches what panels render
type Loader interface {
	ListPage(ctx context.Context, accountID, folder string, limit, offset int) (*email.MessagePage, error)
	Message(ctx context.Context, accountID, folder string, uid uint32) (*types.MessageDetail, error)
	MarkSeen(ctx context.Context, accountID, folder string, uid uint32) error
}

// Invalidator is told when an account's unread counts may have changed
type Invalidator interface {
	InvalidateAccount(accountID string)
}

// Options configures a Registry
type Options struct {
	Mode        config.DisplayMode
	PageSize    int
	Invalidator Invalidator
}

// Registry owns every live panel. It holds at most one panel per key, one
// active list panel and one split detail panel.
type Registry struct {
	factory     SurfaceFactory
	loader      Loader
	invalidator Invalidator
	logger      *logrus.Logger
	pageSize    int

	mu      sync.Mutex
	mode    config.DisplayMode
	lists   map[Key]*Panel
	details map[Key]*Panel
	byID    map[string]*Panel
	active  *Panel
	split   *Panel
}

// NewRegistry creates an empty registry
func NewRegistry(factory SurfaceFactory, loader Loader, logger *logrus.Logger, opts Options) *Registry {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Mode == "" {
		opts.Mode = config.DisplayWindow
	}
	return &Registry{
		factory:     factory,
		loader:      loader,
		invalidator: opts.Invalidator,
		logger:      logger,
		pageSize:    opts.PageSize,
		mode:        opts.Mode,
		lists:       make(map[Key]*Panel),
		details:     make(map[Key]*Panel),
		byID:        make(map[string]*Panel),
	}
}

// SetMode changes how messages are opened from now on. Panels already
// open keep their mode.
func (r *Registry) SetMode(mode config.DisplayMode) error {
	if !mode.Valid() {
		return email.Validationf("unknown display mode %q", mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	return nil
}


// OpenFolder shows a folder listing starting offset messages from the
// newest. An existing panel for the folder is revealed. Otherwise a new tab
// is created when newTab is set, or the active panel is re-keyed.
func (r *Registry) OpenFolder(ctx context.Context, key Key, newTab bool, offset int) (*Panel, error) {
	if err := key.validate(false); err != nil {
		return nil, err
	}
	key = key.Folder()
	if offset < 0 {
		offset = 0
	}

	r.mu.Lock()
	p, ok := r.lists[key]
	var err error
	switch {
	case ok:
	case newTab:
		p, err = r.createLocked(KindList, ModeTab, key)
	case r.active != nil:
		p = r.active
		err = r.retargetLocked(p, key)
	default:
		p, err = r.createLocked(KindList, ModeActive, key)
		if err == nil {
			r.active = p
		}
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.offset = offset
	p.embedded = nil
	p.mu.Unlock()

	p.surface.Reveal()
	return p, r.loadList(ctx, p)
}

// OpenMessage shows one message according to the display mode. from is
// the list panel the message was opened from and may be nil.
func (r *Registry) OpenMessage(ctx context.Context, key Key, from *Panel) (*Panel, error) {
	if err := key.validate(true); err != nil {
		return nil, err
	}

	r.mu.Lock()
	p, err := r.detailTargetLocked(key, from)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.surface.Reveal()
	return p, r.loadMessage(ctx, p)
}

func (r *Registry) detailTargetLocked(key Key, from *Panel) (*Panel, error) {
	switch r.mode {
	case config.DisplayPreview:
		host := from
		if host == nil || host.kind != KindList {
			host = r.lists[key.Folder()]
		}
		if host != nil && host.State() != StateDisposed && host.Key() == key.Folder() {
			host.mu.Lock()
			k := key
			host.embedded = &k
			host.mu.Unlock()
			return host, nil
		}
	case config.DisplaySplit:
		if p, ok := r.details[key]; ok {
			return p, nil
		}
		if r.split != nil {
			return r.split, r.retargetLocked(r.split, key)
		}
		p, err := r.createLocked(KindDetail, ModeSplit, key)
		if err == nil {
			r.split = p
		}
		return p, err
	}

	if p, ok := r.details[key]; ok {
		return p, nil
	}
	return r.createLocked(KindDetail, ModeWindow, key)
}

// Back returns a list panel from an embedded message to its listing and
// reloads it, since unread state may have changed meanwhile
func (r *Registry) Back(ctx context.Context, p *Panel) error {
	p.mu.Lock()
	if p.embedded == nil {
		p.mu.Unlock()
		return email.Validationf("panel is not showing a message")
	}
	p.embedded = nil
	p.mu.Unlock()

	return r.loadList(ctx, p)
}

// Retarget re-keys the active or split panel. Tab and window panels keep
// their key for life. The old key leaves the registry before the new one
// is inserted.
func (r *Registry) Retarget(p *Panel, key Key) error {
	if err := key.validate(p.kind == KindDetail); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retargetLocked(p, key)
}

func (r *Registry) retargetLocked(p *Panel, key Key) error {
	m := r.mapFor(p.kind)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDisposed {
		return email.Validationf("panel %s is disposed", p.id)
	}
	if p.mode != ModeActive && p.mode != ModeSplit {
		return email.Validationf("panel %s is pinned to %s", p.id, p.key)
	}
	if p.key == key {
		return nil
	}
	if other, ok := m[key]; ok && other != p {
		return email.Validationf("%s is already open in another panel", key)
	}

	if m[p.key] == p {
		delete(m, p.key)
	}
	p.key = key
	p.embedded = nil
	p.generation++
	m[key] = p
	return nil
}

func (r *Registry) createLocked(kind Kind, mode Mode, key Key) (*Panel, error) {
	p := newPanel(kind, mode, key)
	surface, err := r.factory.NewSurface(p)
	if err != nil {
		return nil, err
	}
	p.surface = surface

	r.mapFor(kind)[key] = p
	r.byID[p.id] = p

	r.logger.WithFields(logrus.Fields{
		"panel": p.id,
		"kind":  kind,
		"mode":  mode,
		"key":   key.String(),
	}).Debug("Created panel")
	return p, nil
}

func (r *Registry) mapFor(kind Kind) map[Key]*Panel {
	if kind == KindDetail {
		return r.details
	}
	return r.lists
}

// Dispose closes a panel and forgets its key
func (r *Registry) Dispose(p *Panel) {
	if r.dispose(p) {
		p.surface.Dispose()
	}
}

// Closed is called when the UI closed a panel on its own
func (r *Registry) Closed(id string) bool {
	p, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return r.dispose(p)
}

func (r *Registry) dispose(p *Panel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.mu.Lock()
	if p.state == StateDisposed {
		p.mu.Unlock()
		return false
	}
	p.state = StateDisposed
	key := p.key
	p.mu.Unlock()

	m := r.mapFor(p.kind)
	if m[key] == p {
		delete(m, key)
	}
	delete(r.byID, p.id)
	if r.active == p {
		r.active = nil
	}
	if r.split == p {
		r.split = nil
	}
	r.logger.WithFields(logrus.Fields{"panel": p.id, "key": key.String()}).Debug("Disposed panel")
	return true
}

// Lookup finds a live panel by id
func (r *Registry) Lookup(id string) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	return p, ok
}

// ListPanel returns the list panel showing a folder
func (r *Registry) ListPanel(accountID, folder string) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.lists[Key{AccountID: accountID, FolderPath: folder}]
	return p, ok
}

// DetailPanel returns the detail panel showing a message
func (r *Registry) DetailPanel(key Key) (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.details[key]
	return p, ok
}

// Active returns the reusable list panel
func (r *Registry) Active() (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.active != nil
}

// Split returns the reusable detail panel
func (r *Registry) Split() (*Panel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.split, r.split != nil
}

// Panels returns every live panel ordered by key
func (r *Registry) Panels() []*Panel {
	r.mu.Lock()
	out := make([]*Panel, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ki, kj := out[i].Key().String(), out[j].Key().String()
		if ki != kj {
			return ki < kj
		}
		return out[i].id < out[j].id
	})
	return out
}

// RefreshFolder reloads the list panel of a folder, if one is open and not
// showing an embedded message
func (r *Registry) RefreshFolder(ctx context.Context, accountID, folder string) error {
	p, ok := r.ListPanel(accountID, folder)
	if !ok {
		return nil
	}
	if _, embedded := p.Embedded(); embedded {
		return nil
	}
	return r.loadList(ctx, p)
}

// MessageChanged is called after a message was marked, moved or deleted.
// It reloads the folder's list panel and invalidates the account's counts.
func (r *Registry) MessageChanged(ctx context.Context, accountID, folder string) {
	if r.invalidator != nil {
		r.invalidator.InvalidateAccount(accountID)
	}
	if err := r.RefreshFolder(ctx, accountID, folder); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"account": accountID,
			"folder":  folder,
		}).Warn("Failed to refresh folder panel")
	}
}

// MessageRemoved closes every view of a message that left its folder
func (r *Registry) MessageRemoved(ctx context.Context, key Key) {
	var closing []*Panel
	for _, p := range r.Panels() {
		if p.kind == KindDetail && p.Key() == key {
			closing = append(closing, p)
			continue
		}
		p.mu.Lock()
		if p.embedded != nil && *p.embedded == key {
			p.embedded = nil
		}
		p.mu.Unlock()
	}
	for _, p := range closing {
		r.Dispose(p)
	}
	r.MessageChanged(ctx, key.AccountID, key.FolderPath)
}

// DisposeAccount closes every panel showing the account
func (r *Registry) DisposeAccount(accountID string) {
	for _, p := range r.Panels() {
		if p.Key().AccountID == accountID {
			r.Dispose(p)
		}
	}
}

func (r *Registry) loadList(ctx context.Context, p *Panel) error {
	gen, key, offset, _ := p.begin()

	page, err := r.loader.ListPage(ctx, key.AccountID, key.FolderPath, r.pageSize, offset)
	content := Content{Kind: KindList, Key: key, Title: title(key), Page: page}
	if err != nil {
		content.Error = err.Error()
	}
	r.apply(p, gen, content)
	return err
}

func (r *Registry) loadMessage(ctx context.Context, p *Panel) error {
	gen, key, _, embedded := p.begin()
	msgKey := key
	if embedded != nil {
		msgKey = *embedded
	}

	msg, err := r.loader.Message(ctx, msgKey.AccountID, msgKey.FolderPath, msgKey.UID)
	content := Content{
		Kind:     KindDetail,
		Key:      msgKey,
		Title:    title(msgKey),
		Message:  msg,
		Embedded: embedded != nil,
	}
	if err != nil {
		content.Error = err.Error()
	}
	if !r.apply(p, gen, content) || err != nil {
		return err
	}

	if msg.Seen {
		return nil
	}
	if err := r.loader.MarkSeen(ctx, msgKey.AccountID, msgKey.FolderPath, msgKey.UID); err != nil {
		r.logger.WithError(err).WithField("key", msgKey.String()).Warn("Failed to mark message as read")
		return nil
	}
	msg.Seen = true
	r.MessageChanged(ctx, msgKey.AccountID, msgKey.FolderPath)
	return nil
}

// apply renders content unless the panel was disposed or reloaded since
// the load started
func (r *Registry) apply(p *Panel, gen uint64, content Content) bool {
	if !p.current(gen) {
		r.logger.WithFields(logrus.Fields{
			"panel": p.id,
			"key":   content.Key.String(),
		}).Debug("Dropping stale panel result")
		return false
	}
	if err := p.surface.Render(content); err != nil {
		r.logger.WithError(err).WithField("panel", p.id).Warn("Failed to render panel")
	}
	return true
}
