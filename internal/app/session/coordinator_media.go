package session

import (
	"context"

	"github.com/dkeye/echomeet/internal/domain"
)

// ToggleMute flips the local mute flag and publishes it. The mesh is rebuilt
// by the roster notification that follows, not here.
func (c *Coordinator) ToggleMute(ctx context.Context) (bool, error) {
	s, err := c.active()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	s.muted = !s.muted
	muted := s.muted
	c.mu.Unlock()

	c.deps.Media.SetMuted(muted)
	patch := domain.ParticipantPatch{IsMuted: &muted}
	return muted, c.deps.Directory.UpdateSelf(ctx, s.room.ID, s.identity.UserID, patch)
}

// ToggleVideo stops or restarts the camera and publishes the new state. A
// restarted camera has a fresh track that peers pick up on the next rebuild.
func (c *Coordinator) ToggleVideo(ctx context.Context) (bool, error) {
	s, err := c.active()
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	on := !s.videoOn
	c.mu.Unlock()

	if err := c.deps.Media.SetVideo(on); err != nil {
		return !on, err
	}
	c.mu.Lock()
	s.videoOn = on
	c.mu.Unlock()

	patch := domain.ParticipantPatch{VideoOn: &on}
	return on, c.deps.Directory.UpdateSelf(ctx, s.room.ID, s.identity.UserID, patch)
}
