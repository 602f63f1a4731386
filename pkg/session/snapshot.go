package session

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/james-see/groove2groove/pkg/generation"
	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/slots"
)

// SnapshotVersion is the snapshot format written by Export
const SnapshotVersion = 1

// Snapshot is the exported state of a session. Playback handles are not
// part of it.
type Snapshot struct {
	Version   int                `json:"version"`
	SessionID string             `json:"session_id"`
	Slots     []slots.SlotState  `json:"slots"`
	Controls  generation.Options `json:"controls"`
}

func newSessionID() string {
	return uuid.NewString()
}

// Snapshot captures the current session state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	id, settings := c.id, c.settings
	c.mu.Unlock()

	return Snapshot{
		Version:   SnapshotVersion,
		SessionID: id,
		Slots:     c.store.Export(),
		Controls:  settings,
	}
}

// Export encodes the session as JSON
func (c *Coordinator) Export() ([]byte, error) {
	data, err := json.MarshalIndent(c.Snapshot(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Import replaces the session with an exported JSON snapshot
func (c *Coordinator) Import(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return c.Restore(snap)
}

// Restore replaces the session with snap. Every slot is reset, then saved
// slots are restored in slot order so derived slots find their sources
// ready, and their window, instrument and tempo values are replayed.
func (c *Coordinator) Restore(snap Snapshot) error {
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	if snap.Controls.Temperature < 0 {
		return fmt.Errorf("invalid softmax temperature %v", snap.Controls.Temperature)
	}
	states := make(map[slots.ID]slots.SlotState, len(snap.Slots))
	for _, st := range snap.Slots {
		id, err := slots.ParseID(string(st.ID))
		if err != nil {
			return fmt.Errorf("failed to restore snapshot: %w", err)
		}
		states[id] = st
	}
	graph := c.store.Graph()
	for id, st := range states {
		if st.Full == nil {
			continue
		}
		for _, src := range graph[id] {
			if states[src].Full == nil {
				return fmt.Errorf("failed to restore snapshot: %s saved without its source %s", id, src)
			}
		}
	}

	c.stopAll()
	c.store.Reset()

	c.mu.Lock()
	if snap.SessionID != "" {
		c.id = snap.SessionID
	}
	c.settings = snap.Controls
	c.mu.Unlock()

	for _, id := range slots.Order {
		st, ok := states[id]
		if !ok {
			continue
		}
		if _, err := c.store.Restore(st); err != nil {
			return fmt.Errorf("failed to restore slot %s: %w", id, err)
		}
	}

	logger.Info("Session restored", logger.Fields{"session_id": c.ID(), "slots": len(states)})
	return nil
}
