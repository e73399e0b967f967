package permissions

import (
	"context"
	"time"

	"gridframe/server/pkg/logger"
)

// PurgeService is the background worker that removes lapsed grants. It
// satisfies the service supervisor contract and runs under SYSTEM.
type PurgeService struct {
	grants   *GrantService
	interval time.Duration
}

// NewPurgeService creates the grant purge worker
func NewPurgeService(grants *GrantService, interval time.Duration) *PurgeService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &PurgeService{grants: grants, interval: interval}
}

func (p *PurgeService) Name() string            { return "grant-purge" }
func (p *PurgeService) Interval() time.Duration { return p.interval }

func (p *PurgeService) Update(ctx context.Context) error {
	n, err := p.grants.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("purged expired grants", logger.Int("count", int(n)))
	}
	return nil
}

func (p *PurgeService) Cleanup(ctx context.Context) error { return nil }
