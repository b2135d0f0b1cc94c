package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"amroute/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSStore persists actor state and alarms in JetStream KV buckets.
// Params: NATS connection plus data/alarm bucket handles.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	dataKV  nats.KeyValue
	alarmKV nats.KeyValue
}

// NewNATSStore connects to NATS and opens (or creates) both KV buckets.
// Params: NATS store settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	dataKV, err := openBucket(js, settings.DataBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	alarmKV, err := openBucket(js, settings.AlarmBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{nc: nc, js: js, dataKV: dataKV, alarmKV: alarmKV}, nil
}

// openBucket opens a KV bucket, creating it only when allowed by config.
// Params: JetStream context, bucket name, and create flag.
// Returns: bucket handle or open/create error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// Get reads one value.
// Params: storage key.
// Returns: stored bytes or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, key string) ([]byte, error) {
	entry, err := s.dataKV.Get(encodeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return entry.Value(), nil
}

// Put writes one value unconditionally.
// Params: storage key and value.
// Returns: publish error.
func (s *NATSStore) Put(_ context.Context, key string, value []byte) error {
	if _, err := s.dataKV.Put(encodeKey(key), value); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Delete removes one value; missing keys are not an error.
// Params: storage key.
// Returns: delete error.
func (s *NATSStore) Delete(_ context.Context, key string) error {
	if err := s.dataKV.Delete(encodeKey(key)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// List returns all key/value pairs under a prefix.
// Params: key prefix.
// Returns: matching entries.
func (s *NATSStore) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	keys, err := s.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[key] = value
	}
	return out, nil
}

// Keys returns all keys under a prefix.
// Params: key prefix.
// Returns: matching keys in unspecified order.
func (s *NATSStore) Keys(_ context.Context, prefix string) ([]string, error) {
	keys, err := s.dataKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		decoded := decodeKey(key)
		if strings.HasPrefix(decoded, prefix) {
			out = append(out, decoded)
		}
	}
	return out, nil
}

// SetAlarm records the actor's single pending wake time as unix ms.
// Params: actor name and wake time.
// Returns: publish error.
func (s *NATSStore) SetAlarm(_ context.Context, actor string, at time.Time) error {
	value := strconv.AppendInt(nil, at.UnixMilli(), 10)
	if _, err := s.alarmKV.Put(encodeKey(actor), value); err != nil {
		return fmt.Errorf("set alarm for %q: %w", actor, err)
	}
	return nil
}

// GetAlarm reads the actor's pending wake time.
// Params: actor name.
// Returns: wake time or ErrNotFound.
func (s *NATSStore) GetAlarm(_ context.Context, actor string) (time.Time, error) {
	entry, err := s.alarmKV.Get(encodeKey(actor))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("get alarm for %q: %w", actor, err)
	}
	ms, err := strconv.ParseInt(string(entry.Value()), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode alarm for %q: %w", actor, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// DeleteAlarm clears the actor's pending wake time.
// Params: actor name.
// Returns: delete error.
func (s *NATSStore) DeleteAlarm(_ context.Context, actor string) error {
	if err := s.alarmKV.Delete(encodeKey(actor)); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("delete alarm for %q: %w", actor, err)
	}
	return nil
}

// Alarms snapshots every pending alarm for resume at process start.
// Params: none.
// Returns: actor name to wake time map.
func (s *NATSStore) Alarms(ctx context.Context) (map[string]time.Time, error) {
	keys, err := s.alarmKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	out := make(map[string]time.Time, len(keys))
	for _, key := range keys {
		actor := decodeKey(key)
		at, err := s.GetAlarm(ctx, actor)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[actor] = at
	}
	return out, nil
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

// encodeKey maps storage keys onto the KV key charset. Slashes separate
// actor names from record keys and are valid KV characters, so only the
// empty key needs guarding.
func encodeKey(key string) string {
	if key == "" {
		return "_"
	}
	return key
}

func decodeKey(key string) string {
	if key == "_" {
		return ""
	}
	return key
}
