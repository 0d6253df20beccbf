package ranker

import (
	"context"

	"github.com/google/uuid"

	"clicker-backend/internal/domain"
	"clicker-backend/internal/rpc"
	"clicker-backend/pkg/logger"
	"clicker-backend/pkg/redis"
)

// Service answers rank queries. Reads prefer the hot cache and fall back
// to the materialized view when the cache is cold.
type Service struct {
	store    LeaderboardStore
	cache    *redis.Client
	topK     int
	boardLen int
	log      *logger.Logger
}

func NewService(store LeaderboardStore, cache *redis.Client, topK, boardLen int, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		cache:    cache,
		topK:     topK,
		boardLen: boardLen,
		log:      log,
	}
}

// Register wires the service's handlers onto the server.
func (s *Service) Register(srv *rpc.Server) {
	srv.Handle(rpc.OpPing, s.ping)
	srv.Handle(rpc.OpGetRank, s.getRank)
	srv.Handle(rpc.OpGetTopK, s.getTopK)
}

func (s *Service) ping(ctx context.Context, decode func(any) error) (any, error) {
	return &rpc.PingResponse{}, nil
}

func (s *Service) getRank(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.GetRankRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, domain.Validationf("invalid user id")
	}

	rank, err := s.cache.UserRank(ctx, req.UserID)
	if err != nil {
		s.log.WithError(err).Warn("rank cache read failed, falling back to store")
		dbRank, dbTotal, _, err := s.store.UserRank(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &rpc.GetRankResponse{Rank: dbRank, TotalClicks: dbTotal}, nil
	}

	total, found, err := s.cache.UserTotal(ctx, req.UserID)
	if err != nil {
		s.log.WithError(err).Warn("total cache read failed")
	}
	if err != nil || !found {
		// No live total published yet; the view still holds the durable one.
		_, dbTotal, ok, dbErr := s.store.UserRank(ctx, userID)
		if dbErr != nil {
			return nil, dbErr
		}
		if ok {
			total = dbTotal
		}
	}
	return &rpc.GetRankResponse{Rank: rank, TotalClicks: total}, nil
}

func (s *Service) getTopK(ctx context.Context, decode func(any) error) (any, error) {
	var req rpc.GetTopKRequest
	if err := decode(&req); err != nil {
		return nil, domain.Validationf("malformed request: %v", err)
	}
	limit := req.Limit
	if limit <= 0 || limit > s.topK {
		limit = s.boardLen
	}

	totalUsers, err := s.store.CountRanked(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to count ranked users")
	}

	snap, ok, err := s.cache.TopK(ctx)
	if err != nil {
		s.log.WithError(err).Warn("snapshot cache read failed, falling back to store")
	}
	if err == nil && ok {
		entries := snap.Entries
		if len(entries) > limit {
			entries = entries[:limit]
		}
		return &rpc.GetTopKResponse{
			Version:    snap.Version,
			Entries:    entries,
			TotalUsers: totalUsers,
		}, nil
	}

	entries, err := s.store.TopK(ctx, limit)
	if err != nil {
		return nil, err
	}
	return &rpc.GetTopKResponse{
		Version:    0,
		Entries:    entries,
		TotalUsers: totalUsers,
	}, nil
}
