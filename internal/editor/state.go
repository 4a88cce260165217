// Package editor implements the in-page editing state engine: the central
// registry of editable elements and the content manager that keeps every
// element rendering a Key synchronized with that Key's current content.
package editor

import (
	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/model"
)

var editorLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	editorLogger = l
}

// Element is one registered rendering of a Key.
type Element struct {
	Handle   dom.Handle
	Type     model.ContentType
	Template model.TemplateID
	Instance model.InstanceID
}

// State is the central mutable registry. It is pure storage: get/set/delete
// on its maps and sets, no behavior. All mutation flows through Manager and
// the template reconciler, which keep the invariants.
//
// Everything runs on a single event loop; State is not safe for concurrent
// use and does not try to be.
type State struct {
	elements map[model.Key][]Element
	byHandle map[dom.Handle]model.Key

	current  map[model.Key]string
	original map[model.Key]string

	types      map[model.Key]model.ContentType
	attributes map[model.Key]map[string]string

	saved   map[model.Key]struct{}
	deleted map[model.Key]struct{}

	templates map[model.TemplateID]map[model.Key]struct{}
}

func NewState() *State {
	return &State{
		elements:   make(map[model.Key][]Element),
		byHandle:   make(map[dom.Handle]model.Key),
		current:    make(map[model.Key]string),
		original:   make(map[model.Key]string),
		types:      make(map[model.Key]model.ContentType),
		attributes: make(map[model.Key]map[string]string),
		saved:      make(map[model.Key]struct{}),
		deleted:    make(map[model.Key]struct{}),
		templates:  make(map[model.TemplateID]map[model.Key]struct{}),
	}
}

// AddElement registers one rendering of key. The first registration fixes
// the Key's declared type.
func (s *State) AddElement(key model.Key, el Element) {
	s.elements[key] = append(s.elements[key], el)
	s.byHandle[el.Handle] = key

	if _, ok := s.types[key]; !ok && el.Type != "" {
		s.types[key] = el.Type
	}
	if el.Template != "" {
		s.addTemplateKey(el.Template, key)
	}
}

// RemoveElement unregisters a single rendering, leaving the Key's content
// untouched.
func (s *State) RemoveElement(key model.Key, h dom.Handle) {
	els := s.elements[key]
	for i, el := range els {
		if el.Handle == h {
			s.elements[key] = append(els[:i], els[i+1:]...)
			break
		}
	}
	if len(s.elements[key]) == 0 {
		delete(s.elements, key)
	}
	delete(s.byHandle, h)
}

// Elements returns every registered rendering of key.
func (s *State) Elements(key model.Key) []Element {
	return s.elements[key]
}

// KeyOf resolves the secondary element index.
func (s *State) KeyOf(h dom.Handle) (model.Key, bool) {
	k, ok := s.byHandle[h]
	return k, ok
}

// Keys lists every key with registered elements or content.
func (s *State) Keys() []model.Key {
	seen := make(map[model.Key]struct{}, len(s.current))
	var keys []model.Key
	for k := range s.current {
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for k := range s.elements {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *State) Current(key model.Key) (string, bool) {
	v, ok := s.current[key]
	return v, ok
}

func (s *State) SetCurrent(key model.Key, content string) {
	s.current[key] = content
}

func (s *State) Original(key model.Key) (string, bool) {
	v, ok := s.original[key]
	return v, ok
}

func (s *State) SetOriginal(key model.Key, content string) {
	s.original[key] = content
}

// DeleteContent drops both content entries for a key.
func (s *State) DeleteContent(key model.Key) {
	delete(s.current, key)
	delete(s.original, key)
	delete(s.types, key)
	delete(s.attributes, key)
	delete(s.saved, key)
}

// IsDirty reports whether a Key's current content differs from its last
// saved baseline. A Key with current content and no baseline is dirty.
func (s *State) IsDirty(key model.Key) bool {
	cur, ok := s.current[key]
	if !ok {
		return false
	}
	return cur != s.original[key]
}

// DirtyKeys lists every dirty key.
func (s *State) DirtyKeys() []model.Key {
	var dirty []model.Key
	for k, cur := range s.current {
		if cur != s.original[k] {
			dirty = append(dirty, k)
		}
	}
	return dirty
}

func (s *State) DeclaredType(key model.Key) model.ContentType {
	return s.types[key]
}

func (s *State) SetDeclaredType(key model.Key, t model.ContentType) {
	s.types[key] = t
}

func (s *State) Attributes(key model.Key) map[string]string {
	return s.attributes[key]
}

func (s *State) SetAttributes(key model.Key, attrs map[string]string) {
	if len(attrs) == 0 {
		delete(s.attributes, key)
		return
	}
	s.attributes[key] = attrs
}

// MarkSaved records that key is confirmed to exist in the remote store.
func (s *State) MarkSaved(key model.Key) {
	s.saved[key] = struct{}{}
}

func (s *State) IsSaved(key model.Key) bool {
	_, ok := s.saved[key]
	return ok
}

// SetSavedKeys replaces the saved set wholesale, as happens when entering
// author mode.
func (s *State) SetSavedKeys(keys []model.Key) {
	s.saved = make(map[model.Key]struct{}, len(keys))
	for _, k := range keys {
		s.saved[k] = struct{}{}
	}
}

// MarkDeleted records a deletion marker for the draft and the next save.
func (s *State) MarkDeleted(key model.Key) {
	s.deleted[key] = struct{}{}
}

func (s *State) ClearDeleted(key model.Key) {
	delete(s.deleted, key)
}

func (s *State) DeletedKeys() []model.Key {
	var keys []model.Key
	for k := range s.deleted {
		keys = append(keys, k)
	}
	return keys
}

func (s *State) addTemplateKey(tmpl model.TemplateID, key model.Key) {
	if s.templates[tmpl] == nil {
		s.templates[tmpl] = make(map[model.Key]struct{})
	}
	s.templates[tmpl][key] = struct{}{}
}

// AddTemplateKey indexes a key under a template id. Order marker keys have
// no elements, so the reconciler indexes them directly.
func (s *State) AddTemplateKey(tmpl model.TemplateID, key model.Key) {
	s.addTemplateKey(tmpl, key)
}

func (s *State) RemoveTemplateKey(tmpl model.TemplateID, key model.Key) {
	if m := s.templates[tmpl]; m != nil {
		delete(m, key)
		if len(m) == 0 {
			delete(s.templates, tmpl)
		}
	}
}

// TemplateKeys lists every key indexed under a template id.
func (s *State) TemplateKeys(tmpl model.TemplateID) []model.Key {
	var keys []model.Key
	for k := range s.templates[tmpl] {
		keys = append(keys, k)
	}
	return keys
}
