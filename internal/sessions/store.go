// Package sessions holds conversation memory backends, per-session provider
// configuration, session locks and the idle-session janitor.
package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/man-su-97/rag-chatbot/internal/agent"
	"github.com/man-su-97/rag-chatbot/pkg/models"
)

var (
	// ErrNotFound is returned when a session has no stored state.
	ErrNotFound = errors.New("session: not found")

	// ErrLockTimeout is returned when acquiring a lock times out.
	ErrLockTimeout = errors.New("session: lock acquisition timeout")
)

// Store is a conversation memory backend.
type Store interface {
	agent.MemoryBackend

	// Delete removes a session's history. Deleting an unknown session
	// returns ErrNotFound.
	Delete(ctx context.Context, sessionID string) error

	// EvictIdle removes sessions not written since cutoff and returns how
	// many were removed.
	EvictIdle(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}

func encodeHistory(msgs []models.Message) ([]byte, error) {
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return data, nil
}

func decodeHistory(data []byte) ([]models.Message, error) {
	msgs := []models.Message{}
	if len(data) == 0 {
		return msgs, nil
	}
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}
