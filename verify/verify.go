package verify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Sponsor approves a request when the requester's sponsor orders, matched by
// remark, add up to at least the configured threshold. Any lookup problem
// counts as not verified.
type Sponsor struct {
	pool      *pgxpool.Pool
	threshold int
	log       *zap.Logger
}

func NewSponsor(pool *pgxpool.Pool, threshold int, log *zap.Logger) *Sponsor {
	return &Sponsor{pool: pool, threshold: threshold, log: log}
}

func (s *Sponsor) Verify(ctx context.Context, remark string) bool {
	if s == nil || s.pool == nil {
		return false
	}

	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0)
		FROM sponsor_orders
		WHERE remark = $1`, remark).Scan(&total)
	if err != nil {
		s.log.Warn("sponsor lookup failed", zap.String("remark", remark), zap.Error(err))
		return false
	}
	return total >= s.threshold
}
