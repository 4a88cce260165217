// Package draft persists the dirty subset of the editing state so
// in-progress edits survive a page reload.
package draft

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/inplacehq/inplace/internal/compression"
	"github.com/inplacehq/inplace/internal/model"
	"github.com/inplacehq/inplace/internal/storage"
)

var draftLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	draftLogger = l
}

// Draft is the persisted snapshot of unsaved content plus deletion markers.
type Draft struct {
	Content map[model.Key]string `json:"content"`
	Deleted []model.Key          `json:"deleted"`
}

// Empty reports whether the draft carries nothing worth persisting.
func (d *Draft) Empty() bool {
	return len(d.Content) == 0 && len(d.Deleted) == 0
}

// Store writes the draft for one application into a single storage slot.
// A slot exists iff at least one Key is dirty; every qualifying mutation
// rewrites it synchronously.
type Store struct {
	kv         storage.Store
	slot       string
	compressor compression.Compressor
}

func NewStore(kv storage.Store, appID model.AppID, compressor compression.Compressor) *Store {
	return &Store{
		kv:         kv,
		slot:       "inplace.draft." + string(appID),
		compressor: compressor,
	}
}

// Sync overwrites the slot with the given dirty content, or removes the slot
// entirely, not emptied, once nothing is dirty.
func (s *Store) Sync(dirty map[model.Key]string, deleted []model.Key) error {
	d := Draft{Content: dirty, Deleted: deleted}
	if d.Empty() {
		return s.Clear()
	}
	// Marshal both fields as present, never null: Load treats their absence
	// as corruption.
	if d.Content == nil {
		d.Content = map[model.Key]string{}
	}
	if d.Deleted == nil {
		d.Deleted = []model.Key{}
	}

	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("error serializing draft: %w", err)
	}

	blob, err := s.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("error compressing draft: %w", err)
	}

	if err := s.kv.Set(s.slot, blob); err != nil {
		return fmt.Errorf("error persisting draft: %w", err)
	}
	return nil
}

// Load restores the persisted draft. A missing slot returns (nil, nil).
// Corrupt or structurally wrong payloads are discarded silently: the slot
// is cleared and load proceeds as if no draft existed; initialization never
// fails because of a bad draft.
func (s *Store) Load() (*Draft, error) {
	blob, ok, err := s.kv.Get(s.slot)
	if err != nil {
		return nil, fmt.Errorf("error reading draft slot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	data, err := s.compressor.Decompress(blob)
	if err != nil {
		// Drafts written before compression was enabled are raw JSON.
		data = blob
	}

	var probe struct {
		Content *map[model.Key]string `json:"content"`
		Deleted *[]model.Key          `json:"deleted"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Content == nil || probe.Deleted == nil {
		draftLogger.Warn().Str("slot", s.slot).Msg("Discarding corrupt draft")
		_ = s.kv.Delete(s.slot)
		return nil, nil
	}

	return &Draft{Content: *probe.Content, Deleted: *probe.Deleted}, nil
}

// Exists reports whether a draft slot is currently persisted.
func (s *Store) Exists() (bool, error) {
	_, ok, err := s.kv.Get(s.slot)
	return ok, err
}

// Clear removes the slot.
func (s *Store) Clear() error {
	if err := s.kv.Delete(s.slot); err != nil {
		return fmt.Errorf("error clearing draft: %w", err)
	}
	return nil
}
