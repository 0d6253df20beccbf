package edge

import (
	"context"
	"math/rand"
	"time"

	"clicker-backend/internal/domain"
)

// pushLoop drives the periodic score and leaderboard pushes for one
// connection. Tickers start with per-connection jitter so a reconnect
// storm does not synchronize every connection's reads against the cache.
func (h *Handler) pushLoop(ctx context.Context, c *connState) {
	jitter := func(d time.Duration) time.Duration {
		return d + time.Duration(rand.Int63n(int64(d)/5+1))
	}

	select {
	case <-time.After(time.Duration(rand.Int63n(int64(h.scorePush)))):
	case <-ctx.Done():
		return
	}

	scoreTicker := time.NewTicker(jitter(h.scorePush))
	defer scoreTicker.Stop()
	boardTicker := time.NewTicker(jitter(h.leaderboardPush))
	defer boardTicker.Stop()

	var lastVersion uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-scoreTicker.C:
			h.pushScore(ctx, c, false)
		case <-boardTicker.C:
			h.pushLeaderboard(ctx, c, false, &lastVersion)
		}
	}
}

// pushScore sends the user's authoritative score and rank. Unchanged
// values are suppressed unless force is set.
func (h *Handler) pushScore(ctx context.Context, c *connState, force bool) {
	userID, _, authed := c.identity()
	if !authed {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, h.rpcTimeout)
	defer cancel()

	total, ok, err := h.cache.UserTotal(readCtx, userID.String())
	if err != nil {
		h.log.WithError(err).Debug("score cache read failed")
		return
	}
	if !ok {
		// Cache cold; the aggregator is authoritative.
		state, err := h.game.GetUserState(readCtx, userID)
		if err != nil {
			return
		}
		total = state.TotalClicks
	}
	rank, err := h.cache.UserRank(readCtx, userID.String())
	if err != nil {
		if resp, rpcErr := h.leaderboard.GetRank(readCtx, userID); rpcErr == nil {
			rank = resp.Rank
		} else {
			rank = c.lastRank.Load()
		}
	}

	if !force && total == c.lastScore.Load() && rank == c.lastRank.Load() {
		return
	}
	c.lastScore.Store(total)
	c.lastRank.Store(rank)
	update := &ScoreUpdate{
		Type:  MsgScoreUpdate,
		Score: total,
		Rank:  rank,
	}
	if force {
		// Forced pushes (post-init, explicit refresh) restate identity so
		// the client can re-bind its display state.
		update.UserID, update.Username = c.profile()
	}
	h.trySend(c, update)
}

// pushLeaderboard sends the display window when a newer snapshot exists.
func (h *Handler) pushLeaderboard(ctx context.Context, c *connState, force bool, lastVersion *uint64) {
	if _, _, authed := c.identity(); !authed {
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, h.rpcTimeout)
	defer cancel()

	snap, ok, err := h.cache.TopK(readCtx)
	if err != nil || !ok {
		// Cache cold or down; ask the ranker directly.
		resp, rpcErr := h.leaderboard.GetTopK(readCtx, h.boardLen)
		if rpcErr != nil {
			h.log.WithError(rpcErr).Debug("leaderboard read failed")
			return
		}
		h.sendBoard(c, resp.Version, resp.Entries, force, lastVersion)
		return
	}
	h.sendBoard(c, snap.Version, snap.Entries, force, lastVersion)
}

func (h *Handler) sendBoard(c *connState, version uint64, entries []domain.LeaderboardEntry, force bool, lastVersion *uint64) {
	if !force && version != 0 && version == *lastVersion {
		return
	}
	*lastVersion = version

	out := make([]BoardEntry, 0, h.boardLen)
	for i, e := range entries {
		if i >= h.boardLen {
			break
		}
		out = append(out, BoardEntry{
			Rank:        e.Rank,
			Username:    e.Username,
			TotalClicks: e.TotalClicks,
		})
	}
	h.trySend(c, &LeaderboardUpdate{
		Type:    MsgLeaderboardUpdate,
		Version: version,
		Entries: out,
	})
}
