package editor

import (
	"github.com/inplacehq/inplace/internal/dom"
	"github.com/inplacehq/inplace/internal/model"
)

// Selection tracks which element is selected and which is actively being
// edited, toggling the marker classes the UI layer styles against.
type Selection struct {
	doc   *dom.Document
	state *State

	selected dom.Handle
	editing  dom.Handle
}

func NewSelection(state *State, doc *dom.Document) *Selection {
	return &Selection{doc: doc, state: state, selected: dom.NoHandle, editing: dom.NoHandle}
}

// Select marks one element as selected, clearing any previous selection and
// any in-progress edit markers.
func (s *Selection) Select(h dom.Handle) {
	s.EndEdit()
	s.Clear()

	if node := s.doc.Node(h); node != nil {
		dom.AddClass(node, dom.ClassSelected)
		s.selected = h
	}
}

// BeginEdit marks the selected element as being edited and its same-Key
// siblings as editing-siblings.
func (s *Selection) BeginEdit(h dom.Handle) {
	node := s.doc.Node(h)
	if node == nil {
		return
	}
	s.EndEdit()

	dom.AddClass(node, dom.ClassEditing)
	s.editing = h

	if key, ok := s.state.KeyOf(h); ok {
		for _, el := range s.state.Elements(key) {
			if el.Handle == h {
				continue
			}
			if sib := s.doc.Node(el.Handle); sib != nil {
				dom.AddClass(sib, dom.ClassEditingSibling)
			}
		}
	}
}

// EndEdit removes the editing markers, leaving the selection in place.
func (s *Selection) EndEdit() {
	if s.editing == dom.NoHandle {
		return
	}
	if node := s.doc.Node(s.editing); node != nil {
		dom.RemoveClass(node, dom.ClassEditing)
	}
	if key, ok := s.state.KeyOf(s.editing); ok {
		for _, el := range s.state.Elements(key) {
			if sib := s.doc.Node(el.Handle); sib != nil {
				dom.RemoveClass(sib, dom.ClassEditingSibling)
			}
		}
	}
	s.editing = dom.NoHandle
}

// Clear removes the selection marker.
func (s *Selection) Clear() {
	if s.selected == dom.NoHandle {
		return
	}
	if node := s.doc.Node(s.selected); node != nil {
		dom.RemoveClass(node, dom.ClassSelected)
	}
	s.selected = dom.NoHandle
}

// Selected returns the selected element's handle and the Key it renders.
func (s *Selection) Selected() (dom.Handle, model.Key, bool) {
	if s.selected == dom.NoHandle {
		return dom.NoHandle, "", false
	}
	key, ok := s.state.KeyOf(s.selected)
	return s.selected, key, ok
}

// Editing reports the handle currently being edited.
func (s *Selection) Editing() (dom.Handle, bool) {
	return s.editing, s.editing != dom.NoHandle
}
