package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fisioclinic/clinic/internal/domain/followup"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "analytics").Logger(),
		now:    time.Now,
	}
}

type BodyZoneQuery struct {
	Range string
	From  string
	To    string
}

// BodyZones counts how often each known body zone was noted in the window,
// most frequent first.
func (s *Service) BodyZones(ctx context.Context, q BodyZoneQuery) (*Report, error) {
	w, err := ResolveWindow(s.now(), q.Range, q.From, q.To)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.CountBodyZones(ctx, w.From, w.To, followup.BodyZones)
	if err != nil {
		return nil, err
	}
	if counts == nil {
		counts = []ZoneCount{}
	}
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Zone < counts[j].Zone
	})
	s.logger.Debug().Time("from", w.From).Time("to", w.To).Int("zones", len(counts)).Msg("body zone report")
	return &Report{
		From: w.From.Format(isoMillis),
		To:   w.To.Format(isoMillis),
		Data: counts,
	}, nil
}
