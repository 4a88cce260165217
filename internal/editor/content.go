package editor

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/model"
)

// DirtyContent pairs a Key's serialized content with the elements rendering
// it, ready to be written to the remote store.
type DirtyContent struct {
	Content  string
	Elements []Element
}

// Manager reads and writes State for DOM elements: it serializes an
// element's rendered state into its content envelope, applies envelopes back
// to elements, and fans one element's edit out to every sibling sharing its
// Key within the same synchronous call.
type Manager struct {
	state *State
	doc   *dom.Document
	log   zerolog.Logger
}

func NewManager(state *State, doc *dom.Document, log zerolog.Logger) *Manager {
	return &Manager{state: state, doc: doc, log: log}
}

// State exposes the registry for collaborators that share it.
func (m *Manager) State() *State {
	return m.state
}

// RegisterElement adds a discovered element to the registry and, for the
// first element of a Key, captures the rendered state as both the current
// content and the original baseline.
func (m *Manager) RegisterElement(el dom.Element) error {
	e := Element{Handle: el.Handle, Type: el.Type, Template: el.Template, Instance: el.Instance}
	first := len(m.state.Elements(el.Key)) == 0
	m.state.AddElement(el.Key, e)

	if _, ok := m.state.Current(el.Key); !ok && first {
		content, err := m.GetElementContent(el.Key, e)
		if err != nil {
			return fmt.Errorf("error capturing baseline for %s: %w", el.Key, err)
		}
		m.state.SetCurrent(el.Key, content)
		m.state.SetOriginal(el.Key, content)
	}
	return nil
}

// UnregisterElement detaches one rendering from the registry and releases
// its handle, called when its node leaves the tree.
func (m *Manager) UnregisterElement(key model.Key, h dom.Handle) {
	m.state.RemoveElement(key, h)
	m.doc.Release(h)
}

// GetElementContent serializes an element's rendered state into the Key's
// typed envelope, including any previously captured attributes. It reads the
// DOM and State and mutates neither.
func (m *Manager) GetElementContent(key model.Key, el Element) (string, error) {
	node := m.doc.Node(el.Handle)
	if node == nil {
		return "", fmt.Errorf("stale element handle for key %s", key)
	}

	attrs := m.state.Attributes(key)

	var env model.Envelope
	switch m.effectiveType(key, el) {
	case model.ContentHTML:
		markup, err := dom.InnerHTML(node)
		if err != nil {
			return "", fmt.Errorf("error reading markup for %s: %w", key, err)
		}
		env = model.HTMLEnvelope(markup, attrs)
	case model.ContentImage:
		src, _ := dom.GetAttr(node, "src")
		env = model.ImageEnvelope(src, attrs)
	case model.ContentLink:
		href, _ := dom.GetAttr(node, "href")
		target, _ := dom.GetAttr(node, "target")
		markup, err := dom.InnerHTML(node)
		if err != nil {
			return "", fmt.Errorf("error reading markup for %s: %w", key, err)
		}
		env = model.LinkEnvelope(href, target, markup, attrs)
	default:
		env = model.TextEnvelope(dom.Text(node), attrs)
	}

	return env.Encode()
}

// UpdateContentFromElement is the input-event entry point. It re-derives the
// source element's envelope, stores it as the Key's current content and
// synchronizes every other rendering of the Key from it, skipping the
// source so the caret the user is typing with is never clobbered by a
// redundant write. The fan-out completes before this method returns.
func (m *Manager) UpdateContentFromElement(key model.Key, source dom.Handle) error {
	els := m.state.Elements(key)
	var src *Element
	for i := range els {
		if els[i].Handle == source {
			src = &els[i]
			break
		}
	}
	if src == nil {
		return fmt.Errorf("element is not registered under key %s", key)
	}

	content, err := m.GetElementContent(key, *src)
	if err != nil {
		return err
	}
	m.state.SetCurrent(key, content)
	m.syncSiblings(key, content, source)
	return nil
}

// SetContent is the programmatic entry point used by modal editors (image,
// link), which don't edit the DOM in place. Every rendering is synchronized.
func (m *Manager) SetContent(key model.Key, content string) {
	m.state.SetCurrent(key, content)
	m.syncSiblings(key, content, dom.NoHandle)
}

func (m *Manager) syncSiblings(key model.Key, content string, skip dom.Handle) {
	for _, el := range m.state.Elements(key) {
		if el.Handle == skip {
			continue
		}
		m.ApplyElementContent(key, el, content)
	}
}

// ApplyElementContent deserializes an envelope and writes it into one
// element. Untagged legacy payloads fall back to the Key's declared type;
// payloads whose effective type matches no recognized case, and payloads
// that aren't JSON at all, leave the element unmodified. Content fields are
// a best-effort contract (they can originate from hand-edited remote data),
// so malformed input is logged and swallowed, never surfaced.
func (m *Manager) ApplyElementContent(key model.Key, el Element, content string) {
	node := m.doc.Node(el.Handle)
	if node == nil {
		return
	}

	env, err := model.DecodeEnvelope(content)
	if err != nil {
		if errors.Is(err, model.ErrMalformedEnvelope) {
			m.log.Debug().Str("key", string(key)).Msg("Ignoring malformed content envelope")
			return
		}
		m.log.Debug().Err(err).Str("key", string(key)).Msg("Ignoring undecodable content")
		return
	}

	t := env.Type
	if !env.Tagged {
		t = m.effectiveType(key, el)
	}

	switch t {
	case model.ContentText:
		dom.SetText(node, env.Value)
	case model.ContentHTML:
		if err := dom.SetInnerHTML(node, env.Value); err != nil {
			m.log.Debug().Err(err).Str("key", string(key)).Msg("Failed to apply markup")
			return
		}
	case model.ContentImage:
		dom.SetAttr(node, "src", env.Src)
	case model.ContentLink:
		dom.SetAttr(node, "href", env.Href)
		if env.Target != "" {
			dom.SetAttr(node, "target", env.Target)
		} else {
			dom.RemoveAttr(node, "target")
		}
		if env.Value != "" {
			if err := dom.SetInnerHTML(node, env.Value); err != nil {
				m.log.Debug().Err(err).Str("key", string(key)).Msg("Failed to apply link markup")
				return
			}
		}
	default:
		// Unrecognized effective type: deliberately leave the element alone.
		return
	}

	for name, value := range env.Attributes {
		dom.SetAttr(node, name, value)
	}
	if len(env.Attributes) > 0 {
		m.state.SetAttributes(key, env.Attributes)
	}
}

// GetDirtyElements returns every Key whose current content differs from its
// baseline, with the elements rendering it.
func (m *Manager) GetDirtyElements() map[model.Key]DirtyContent {
	dirty := make(map[model.Key]DirtyContent)
	for _, key := range m.state.DirtyKeys() {
		content, _ := m.state.Current(key)
		dirty[key] = DirtyContent{Content: content, Elements: m.state.Elements(key)}
	}
	return dirty
}

// GetUnsavedTemplateElements returns, for each changed template, every Key
// belonging to it that has never been confirmed in the remote store,
// regardless of dirtiness. A reorder changes every instance's persisted
// position, so never-saved fields must be force-written even when their
// value never changed; otherwise the reorder completes while some instances
// have no server-side row.
func (m *Manager) GetUnsavedTemplateElements(changed []model.TemplateID) map[model.Key]DirtyContent {
	unsaved := make(map[model.Key]DirtyContent)
	for _, tmpl := range changed {
		for _, key := range m.state.TemplateKeys(tmpl) {
			if m.state.IsSaved(key) {
				continue
			}
			content, ok := m.state.Current(key)
			if !ok {
				continue
			}
			unsaved[key] = DirtyContent{Content: content, Elements: m.state.Elements(key)}
		}
	}
	return unsaved
}

// RevertAll restores every dirty Key to its baseline, reapplying the
// original content to all of its elements.
func (m *Manager) RevertAll() {
	for _, key := range m.state.DirtyKeys() {
		original, ok := m.state.Original(key)
		if !ok {
			// No baseline to return to: the Key never existed before this
			// session, so reverting forgets it.
			m.state.DeleteContent(key)
			continue
		}
		m.state.SetCurrent(key, original)
		m.syncSiblings(key, original, dom.NoHandle)
	}
	for _, key := range m.state.DeletedKeys() {
		m.state.ClearDeleted(key)
	}
}

func (m *Manager) effectiveType(key model.Key, el Element) model.ContentType {
	if t := m.state.DeclaredType(key); t != "" {
		return t
	}
	if el.Type != "" {
		return el.Type
	}
	return model.ContentText
}
