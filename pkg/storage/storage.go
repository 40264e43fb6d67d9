// Package storage provides the persistence adapter the conversation
// engine mirrors its state into: a key/value store of JSON blobs, one
// blob per thread key.
package storage

// Store is the minimal surface the engine needs. Get reports found=false
// for unknown keys instead of an error.
type Store interface {
	Get(key string) (data []byte, found bool, err error)
	Set(key string, data []byte) error
	Delete(key string) error
	Close() error
}
