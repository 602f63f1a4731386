package session

import (
	"context"
	"fmt"

	"github.com/james-see/groove2groove/pkg/logger"
	"github.com/james-see/groove2groove/pkg/slots"
)

// Playback returns the current playback state
func (c *Coordinator) Playback() slots.Playback {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback
}

// Play starts playback of the effective sequence of id at its playback
// tempo. Any other playing slot is stopped first. Play is rejected while
// another slot is still preparing.
func (c *Coordinator) Play(ctx context.Context, id slots.ID) error {
	if c.player == nil {
		return ErrNoPlayer
	}
	v, err := c.store.Slot(id)
	if err != nil {
		return err
	}
	if !v.Ready() {
		return fmt.Errorf("%w: %s", slots.ErrNotReady, id)
	}
	if v.Busy {
		return fmt.Errorf("%w: %s", slots.ErrBusy, id)
	}

	c.mu.Lock()
	if c.playback.Preparing {
		c.mu.Unlock()
		return fmt.Errorf("%w: playback is being prepared", slots.ErrBusy)
	}
	prev := c.playback.Playing
	c.playback = slots.Playback{Preparing: true}
	c.mu.Unlock()

	if prev != "" {
		if err := c.player.Stop(prev); err != nil {
			logger.Warn("Failed to stop playback", logger.Fields{"slot": prev, "error": err.Error()})
		}
	}

	err = c.player.Prepare(ctx, v.Effective, v.Tempo())
	if err == nil {
		err = c.player.Start(id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.playback.Preparing = false
	if err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	c.playback.Playing = id
	logger.Debug("Playback started", logger.Fields{"slot": id, "qpm": v.Tempo()})
	return nil
}

// Stop ends playback of id. Stopping a slot that is not playing is a no-op.
func (c *Coordinator) Stop(id slots.ID) error {
	if c.player == nil {
		return ErrNoPlayer
	}
	c.mu.Lock()
	if c.playback.Playing != id {
		c.mu.Unlock()
		return nil
	}
	c.playback.Playing = ""
	c.mu.Unlock()

	if err := c.player.Stop(id); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	return nil
}

func (c *Coordinator) stopAll() {
	if c.player == nil {
		return
	}
	c.mu.Lock()
	playing := c.playback.Playing
	c.playback.Playing = ""
	c.mu.Unlock()

	if playing != "" {
		if err := c.player.Stop(playing); err != nil {
			logger.Warn("Failed to stop playback", logger.Fields{"slot": playing, "error": err.Error()})
		}
	}
}
