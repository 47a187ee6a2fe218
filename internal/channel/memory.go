package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxelpromo/voxelpromo/internal/offer"
)

// Memory records posted messages for development and tests.
type Memory struct {
	name offer.ChannelName

	mu       sync.RWMutex
	messages []offer.Message
	failWith error
}

// NewMemory builds a memory channel reporting the given name.
func NewMemory(name offer.ChannelName) *Memory {
	return &Memory{name: name}
}

// Name reports the channel identity.
func (m *Memory) Name() offer.ChannelName {
	return m.name
}

// Post records the message and returns a pseudo ID.
func (m *Memory) Post(_ context.Context, msg offer.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	m.messages = append(m.messages, msg)
	return fmt.Sprintf("%s-%d", m.name, len(m.messages)), nil
}

// Messages returns the recorded posts.
func (m *Memory) Messages() []offer.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]offer.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// FailWith makes subsequent posts fail with err. Pass nil to recover.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}
