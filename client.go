// Package inplace is the embeddable edit-in-place client core. A Client
// wires the element registry, content manager, template reconciler, draft
// store, session manager and API transport into one object the embedding
// UI layer drives: attach it to a page, feed it selection and input events,
// and call Save.
package inplace

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/auth"
	"github.com/inplacehq/inplace/internal/compression"
	"github.com/inplacehq/inplace/internal/config"
	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/draft"
	"github.com/inplacehq/inplace/internal/editor"
	"github.com/inplacehq/inplace/internal/logger"
	"github.com/inplacehq/inplace/internal/model"
	"github.com/inplacehq/inplace/internal/remote"
	"github.com/inplacehq/inplace/internal/storage"
	"github.com/inplacehq/inplace/internal/template"
)

// Notifier receives user-visible messages. The core decides when to speak;
// the UI layer decides how it looks.
type Notifier interface {
	Notify(message string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// Options carries the collaborators the embedding environment supplies.
type Options struct {
	// Storage is the local key-value slot store. Defaults to in-memory.
	Storage storage.Store
	// Opener opens the login window. Required to sign in.
	Opener auth.Opener
	// Notifier receives user-visible messages. Optional.
	Notifier Notifier
	// Logger, when set, replaces the logger built from the config level.
	Logger *zerolog.Logger
}

// Client is one embedded editing session for one application.
type Client struct {
	cfg *config.Config
	log zerolog.Logger

	doc        *dom.Document
	state      *editor.State
	content    *editor.Manager
	selection  *editor.Selection
	reconciler *template.Reconciler

	drafts  *draft.Store
	remote  *remote.Client
	session *auth.Manager
	notify  Notifier

	// editingEnabled gates author-mode editing on the saved-keys fetch; an
	// authenticated author with a failed fetch stays read-only.
	editingEnabled bool
}

// New validates the configuration and builds a detached client. Call Attach
// before anything else.
func New(cfg *config.Config, opts Options) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	var log zerolog.Logger
	if opts.Logger != nil {
		log = *opts.Logger
	} else {
		log = logger.New(cfg.Logging.Level)
	}
	editor.SetLogger(log.With().Str("component", "editor").Logger())
	draft.SetLogger(log.With().Str("component", "draft").Logger())
	auth.SetLogger(log.With().Str("component", "auth").Logger())
	storage.SetLogger(log.With().Str("component", "storage").Logger())
	config.SetLogger(log.With().Str("component", "config").Logger())

	kv := opts.Storage
	if kv == nil {
		kv = storage.NewMemory()
	}
	notify := opts.Notifier
	if notify == nil {
		notify = nopNotifier{}
	}

	var compressor compression.Compressor = compression.Noop{}
	if cfg.Editor.CompressDrafts {
		compressor = compression.ZstdCompressor{}
	}

	appID := model.AppID(cfg.App.ID)
	api := remote.NewClient(cfg.API.BaseURL, appID, time.Duration(cfg.API.TimeoutSeconds)*time.Second, log)

	keys := auth.NewKeyStorage(kv, appID)
	flow := auth.NewPopupFlow(opts.Opener, time.Duration(cfg.Auth.PopupTimeoutSeconds)*time.Second)
	session := auth.NewManager(keys, api, flow, cfg.Auth.LoginURL, time.Duration(cfg.Auth.KeyTTLMinutes)*time.Minute)
	api.SetCredentialSource(session.CredentialKey)
	api.SetRefreshHook(session.RefreshCredential)

	return &Client{
		cfg:     cfg,
		log:     log,
		drafts:  draft.NewStore(kv, appID, compressor),
		remote:  api,
		session: session,
		notify:  notify,
	}, nil
}

// Attach parses the page markup, discovers and registers every marked-up
// element, seeds the template order lists, and restores any draft left by a
// prior session. Draft content wins over the rendered baseline.
func (c *Client) Attach(markup string) error {
	doc, err := dom.ParseString(markup, dom.Attrs(c.cfg.Editor.AttributePrefix))
	if err != nil {
		return err
	}
	c.doc = doc
	c.state = editor.NewState()
	c.content = editor.NewManager(c.state, doc, c.log)
	c.selection = editor.NewSelection(c.state, doc)
	c.reconciler = template.NewReconciler(c.content, doc, c.cfg.Editor.InstanceIDLength, c.log)

	for _, el := range doc.Discover() {
		if err := c.content.RegisterElement(el); err != nil {
			c.log.Warn().Err(err).Str("key", string(el.Key)).Msg("Error registering element")
		}
	}
	c.reconciler.Discover()
	c.restoreDraft()
	return nil
}

// restoreDraft replays a persisted draft over the freshly captured
// baselines. Corrupt or absent drafts were already resolved to nil by Load.
func (c *Client) restoreDraft() {
	d, err := c.drafts.Load()
	if err != nil {
		c.log.Warn().Err(err).Msg("Error loading draft")
		return
	}
	if d == nil {
		return
	}
	c.log.Info().Int("keys", len(d.Content)).Msg("Restoring draft")
	for key, content := range d.Content {
		c.content.SetContent(key, content)
	}
	for _, key := range d.Deleted {
		c.state.MarkDeleted(key)
	}
	c.syncDraft()
}

// syncDraft recomputes the dirty subset and rewrites the draft slot. The
// slot is removed, not emptied, once nothing is dirty.
func (c *Client) syncDraft() {
	dirty := make(map[model.Key]string)
	for key, dc := range c.content.GetDirtyElements() {
		dirty[key] = dc.Content
	}
	if err := c.drafts.Sync(dirty, c.state.DeletedKeys()); err != nil {
		c.log.Warn().Err(err).Msg("Error persisting draft")
	}
}

// Document exposes the attached page for rendering and element lookup.
func (c *Client) Document() *dom.Document {
	return c.doc
}

// HandlesFor returns the registered element handles for a key, in
// registration order. The UI layer uses it to map gestures back to keys.
func (c *Client) HandlesFor(key model.Key) []dom.Handle {
	els := c.state.Elements(key)
	handles := make([]dom.Handle, len(els))
	for i, el := range els {
		handles[i] = el.Handle
	}
	return handles
}

// Render serializes the attached page back to markup.
func (c *Client) Render() (string, error) {
	return c.doc.Render()
}

// Select marks an element as the current selection.
func (c *Client) Select(h dom.Handle) {
	c.selection.Select(h)
}

// BeginEdit moves the selection into active editing, marking siblings that
// share its key.
func (c *Client) BeginEdit(h dom.Handle) {
	c.selection.BeginEdit(h)
}

// EndEdit leaves active editing, keeping the selection.
func (c *Client) EndEdit() {
	c.selection.EndEdit()
}

// ClearSelection drops selection and editing markers.
func (c *Client) ClearSelection() {
	c.selection.Clear()
}

// Selected returns the selected element's handle and the Key it renders.
func (c *Client) Selected() (dom.Handle, model.Key, bool) {
	return c.selection.Selected()
}

// Editing reports the handle currently being edited.
func (c *Client) Editing() (dom.Handle, bool) {
	return c.selection.Editing()
}

// Keys lists every registered content key on the attached page.
func (c *Client) Keys() []model.Key {
	return c.state.Keys()
}

// Input handles a user edit inside the given element: re-derives its
// envelope, fans it out to every sibling sharing the key, and rewrites the
// draft. Runs synchronously; when it returns, every rendering of the key
// matches.
func (c *Client) Input(h dom.Handle) error {
	key, ok := c.state.KeyOf(h)
	if !ok {
		return errors.New("element is not registered")
	}
	if err := c.content.UpdateContentFromElement(key, h); err != nil {
		return err
	}
	c.syncDraft()
	return nil
}

// SetContent programmatically replaces a key's content, the path used by
// modal editors for images and links.
func (c *Client) SetContent(key model.Key, content string) {
	c.content.SetContent(key, content)
	c.syncDraft()
}

// HasChanges reports whether anything would be written by Save.
func (c *Client) HasChanges() bool {
	return len(c.state.DirtyKeys()) > 0 || len(c.state.DeletedKeys()) > 0
}

// Revert discards all local edits, restoring every element to its last
// saved content and every template to its last saved structure, and removes
// the draft.
func (c *Client) Revert() {
	c.reconciler.Revert()
	c.content.RevertAll()
	c.syncDraft()
}

// AddInstance appends a new template instance after the given one.
func (c *Client) AddInstance(tmpl model.TemplateID, after model.InstanceID) (model.InstanceID, error) {
	id, err := c.reconciler.AddInstance(tmpl, after)
	if err != nil {
		return "", err
	}
	c.syncDraft()
	return id, nil
}

// DeleteInstance removes a template instance. The last remaining instance
// of a template is never deleted.
func (c *Client) DeleteInstance(tmpl model.TemplateID, inst model.InstanceID) bool {
	ok := c.reconciler.DeleteInstance(tmpl, inst)
	if ok {
		c.syncDraft()
	}
	return ok
}

// MoveInstance shifts an instance one position. Boundary moves are no-ops.
func (c *Client) MoveInstance(tmpl model.TemplateID, inst model.InstanceID, dir template.Direction) bool {
	ok := c.reconciler.MoveInstance(tmpl, inst, dir)
	if ok {
		c.syncDraft()
	}
	return ok
}

// Instances returns the current order of a template's instances.
func (c *Client) Instances(tmpl model.TemplateID) []model.InstanceID {
	return c.reconciler.Instances(tmpl)
}

// Save writes every dirty key, every never-saved key of a structurally
// changed template, and every deletion marker to the content API. On
// success the baselines advance and the draft slot disappears. On failure
// nothing local is discarded: a plain failure keeps the session for a
// retry, an authorization failure ends the session but the draft survives
// into the next sign-in.
func (c *Client) Save(ctx context.Context) error {
	payload := c.content.GetDirtyElements()
	for key, dc := range c.content.GetUnsavedTemplateElements(c.reconciler.ChangedTemplates()) {
		payload[key] = dc
	}
	deleted := c.state.DeletedKeys()
	if len(payload) == 0 && len(deleted) == 0 {
		return nil
	}

	for key, dc := range payload {
		if err := c.remote.SaveContent(ctx, key, dc.Content); err != nil {
			return c.saveFailed(key, err)
		}
	}
	for _, key := range deleted {
		if err := c.remote.DeleteContent(ctx, key); err != nil {
			return c.saveFailed(key, err)
		}
	}

	for key, dc := range payload {
		c.state.SetOriginal(key, dc.Content)
		c.state.MarkSaved(key)
	}
	for _, key := range deleted {
		c.state.ClearDeleted(key)
	}
	c.reconciler.ClearChanged()
	c.syncDraft()
	c.log.Info().Int("keys", len(payload)).Int("deleted", len(deleted)).Msg("Saved content")
	c.notify.Notify("Changes saved.")
	return nil
}

func (c *Client) saveFailed(key model.Key, err error) error {
	if errors.Is(err, remote.ErrUnauthorized) {
		c.log.Warn().Str("key", string(key)).Msg("Credential rejected during save, signing out")
		c.notify.Notify("Your session has expired. Please sign in again. Your unsaved changes are kept.")
		c.session.ForceSignOut()
		c.editingEnabled = false
		return err
	}
	c.log.Error().Err(err).Str("key", string(key)).Msg("Error saving content")
	c.notify.Notify("Failed to save changes. Please try again.")
	return err
}

// Restore resumes a prior session from the stored credential, then prepares
// author mode when that was the stored preference.
func (c *Client) Restore(ctx context.Context) (auth.Status, error) {
	status, err := c.session.Restore(ctx)
	if err != nil {
		return status, err
	}
	if status == auth.StatusAuthenticated && c.session.Mode() == auth.ModeAuthor {
		if err := c.prepareAuthorMode(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Error preparing author mode on restore")
		}
	}
	return status, nil
}

// SignIn runs the login popup flow.
func (c *Client) SignIn(ctx context.Context) (auth.Status, error) {
	status, err := c.session.SignIn(ctx)
	if err != nil {
		return status, err
	}
	if status == auth.StatusAuthenticated && c.session.Mode() == auth.ModeAuthor {
		if err := c.prepareAuthorMode(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Error preparing author mode on sign-in")
		}
	}
	return status, nil
}

// SignOut ends the session. When local edits exist, the confirm callback
// gates the transition; the draft slot is left alone either way, so unsaved
// work is still there after the next sign-in.
func (c *Client) SignOut(confirm func() bool) bool {
	ok := c.session.SignOut(c.HasChanges(), confirm)
	if ok {
		c.editingEnabled = false
	}
	return ok
}

// EnterAuthorMode switches to author mode and fetches which keys already
// exist remotely. Editing stays disabled when that fetch fails.
func (c *Client) EnterAuthorMode(ctx context.Context) error {
	if err := c.session.SetMode(auth.ModeAuthor); err != nil {
		return err
	}
	return c.prepareAuthorMode(ctx)
}

// EnterViewerMode leaves author mode.
func (c *Client) EnterViewerMode() error {
	c.editingEnabled = false
	return c.session.SetMode(auth.ModeViewer)
}

func (c *Client) prepareAuthorMode(ctx context.Context) error {
	entries, err := c.remote.ListContent(ctx)
	if err != nil {
		c.editingEnabled = false
		if errors.Is(err, remote.ErrUnauthorized) {
			c.notify.Notify("Your session has expired. Please sign in again.")
			c.session.ForceSignOut()
			return err
		}
		c.notify.Notify("Could not load saved content. Editing is disabled.")
		return err
	}
	saved := make([]model.Key, 0, len(entries))
	for _, e := range entries {
		saved = append(saved, e.ElementID)
	}
	c.state.SetSavedKeys(saved)
	c.editingEnabled = true
	return nil
}

// CanEdit reports whether editing gestures should be enabled: an
// authenticated author with the write capability whose saved-keys fetch
// succeeded.
func (c *Client) CanEdit() bool {
	return c.editingEnabled && c.session.CanEdit()
}

// Session exposes the session manager for the UI layer.
func (c *Client) Session() *auth.Manager {
	return c.session
}
