package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrNotJSON = errors.New("storage: restored values are not valid JSON")

const updateBufferSize = 255

type InmemoryStore struct {
	mu          sync.Mutex
	values      []byte
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return nil
	}

	close(i.stop)

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}
	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.set(key, value)
}

func (i *InmemoryStore) Incr(ctx context.Context, key []byte, delta int64) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	current := gjson.GetBytes(i.values, string(key))
	if current.Exists() && current.Type != gjson.Number {
		return 0, fmt.Errorf("incr %s: value is %s, not a number", key, current.Type)
	}

	next := current.Int() + delta
	if err := i.set(key, next); err != nil {
		return 0, err
	}

	return next, nil
}

// set must be called with mu held.
func (i *InmemoryStore) set(key []byte, value interface{}) (err error) {
	i.values, err = sjson.SetBytes(i.values, string(key), value)
	if err != nil {
		return err
	}

	if !i.isRunning() {
		return nil
	}

	i.publish(&Update{
		Key:   key,
		Value: []byte(gjson.GetBytes(i.values, string(key)).Raw),
	})

	return nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key []byte) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !gjson.GetBytes(i.values, string(key)).Exists() {
		return nil
	}

	i.values, err = sjson.DeleteBytes(i.values, string(key))
	if err != nil {
		return err
	}

	if i.isRunning() {
		i.publish(&Update{Key: key, Value: []byte{}})
	}

	return nil
}

// publish must be called with mu held.
func (i *InmemoryStore) publish(update *Update) {
	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
			// Slow listeners miss updates rather than stall writers
		}
	}
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result := gjson.GetBytes(i.values, string(key))
	return []byte(result.Raw), nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, updateBufferSize)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) > 0 && !gjson.ValidBytes(values) {
		return ErrNotJSON
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
