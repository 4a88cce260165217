package auth

import (
	"encoding/json"
	"fmt"

	"github.com/inplacehq/inplace/internal/model"
	"github.com/inplacehq/inplace/internal/storage"
)

const (
	credentialSlotPrefix = "inplace.credential"
	modeSlotPrefix       = "inplace.mode"
)

// KeyStorage persists the credential and mode-preference slots for one
// application. Slots are scoped by application id; unscoped slots written by
// older embeds are read as a fallback, with the scoped value winning when
// both exist.
type KeyStorage struct {
	kv    storage.Store
	appID model.AppID
}

func NewKeyStorage(kv storage.Store, appID model.AppID) *KeyStorage {
	return &KeyStorage{kv: kv, appID: appID}
}

func (s *KeyStorage) scoped(prefix string) string {
	return prefix + "." + string(s.appID)
}

// Credential loads the stored credential. Corrupt slots read as absent.
func (s *KeyStorage) Credential() (*Credential, bool) {
	for _, slot := range []string{s.scoped(credentialSlotPrefix), credentialSlotPrefix} {
		data, ok, err := s.kv.Get(slot)
		if err != nil || !ok {
			continue
		}
		var c Credential
		if err := json.Unmarshal(data, &c); err != nil || c.Key == "" {
			authLogger.Warn().Str("slot", slot).Msg("Discarding corrupt credential slot")
			continue
		}
		return &c, true
	}
	return nil, false
}

// SetCredential stores the credential in the scoped slot.
func (s *KeyStorage) SetCredential(c *Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("error serializing credential: %w", err)
	}
	if err := s.kv.Set(s.scoped(credentialSlotPrefix), data); err != nil {
		return fmt.Errorf("error storing credential: %w", err)
	}
	return nil
}

// ClearCredential removes both the scoped slot and any legacy unscoped one,
// so a signed-out session cannot resurrect through the fallback.
func (s *KeyStorage) ClearCredential() error {
	if err := s.kv.Delete(s.scoped(credentialSlotPrefix)); err != nil {
		return err
	}
	return s.kv.Delete(credentialSlotPrefix)
}

// Mode loads the stored mode preference, with the legacy fallback.
func (s *KeyStorage) Mode() (Mode, bool) {
	for _, slot := range []string{s.scoped(modeSlotPrefix), modeSlotPrefix} {
		data, ok, err := s.kv.Get(slot)
		if err != nil || !ok {
			continue
		}
		switch Mode(data) {
		case ModeAuthor, ModeViewer:
			return Mode(data), true
		}
	}
	return "", false
}

// SetMode stores the mode preference in the scoped slot.
func (s *KeyStorage) SetMode(m Mode) error {
	return s.kv.Set(s.scoped(modeSlotPrefix), []byte(m))
}
