// Package storage provides the flat key-value byte store the SDK persists
// local state into: auth credentials, mode preference and edit drafts.
package storage

import "github.com/rs/zerolog"

// Store is a flat byte slot store. Get reports presence explicitly so an
// absent slot and an empty slot are distinguishable.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

var storageLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	storageLogger = l
}
