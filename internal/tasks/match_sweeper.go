package tasks

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"heartlink/internal/repository"
)

// MatchSweeper deletes dating matches past their seven-day window so
// the match endpoint stops resolving them.
type MatchSweeper struct {
	repo repository.MatchRepo
}

func NewMatchSweeper(repo repository.MatchRepo) *MatchSweeper {
	return &MatchSweeper{repo: repo}
}

func (s *MatchSweeper) Start() {
	c := cron.New()

	_, err := c.AddFunc("*/10 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := s.repo.DeleteExpired(ctx)
		if err != nil {
			log.Printf("[WORKER] Match cleanup failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[WORKER] Expired %d dating matches", n)
		}
	})
	if err != nil {
		log.Printf("[WORKER] Error scheduling cron: %v", err)
		return
	}

	c.Start()
}
