// Package storage provides the durable key-value backing for actors:
// namespaced byte values plus one persisted alarm record per actor.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates an absent key or alarm.
var ErrNotFound = errors.New("not found")

// Store persists actor state and alarms.
// Params: byte-valued CRUD, prefix listing, and per-actor alarm records.
// Returns: backend persistence behavior shared by memory and NATS modes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Keys(ctx context.Context, prefix string) ([]string, error)

	SetAlarm(ctx context.Context, actor string, at time.Time) error
	GetAlarm(ctx context.Context, actor string) (time.Time, error)
	DeleteAlarm(ctx context.Context, actor string) error
	Alarms(ctx context.Context) (map[string]time.Time, error)

	Close() error
}
