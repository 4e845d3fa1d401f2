package session

import "context"

// kick asks for one more reconciliation. Requests made while one is already
// pending are merged.
func (s *session) kick() {
	select {
	case s.pending <- struct{}{}:
	default:
	}
}

// loop runs reconciliations one at a time until the session ends.
func (c *Coordinator) loop(s *session) {
	defer close(s.loopDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.pending:
			c.reconcile(s.ctx, s)
		}
	}
}

// reconcile fetches the roster and hands it to the mesh. Failures are scoped
// to this cycle; the next notification tries again.
func (c *Coordinator) reconcile(ctx context.Context, s *session) {
	roster, err := c.deps.Directory.FetchRoster(ctx, s.room.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("room", string(s.room.ID)).Msg("fetch roster")
		return
	}
	c.mu.Lock()
	s.roster = roster
	c.mu.Unlock()

	if err := s.mesh.Reconcile(ctx, roster); err != nil {
		c.log.Warn().Err(err).Str("room", string(s.room.ID)).Msg("reconcile")
	}
	c.log.Debug().Str("room", string(s.room.ID)).Int("participants", len(roster)).Msg("reconciled")
}
