package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"proxypool/internal/domain"
)

const (
	defaultCheckBatchSize = 500
	maxRecentChecks       = 500
)

var ErrNoDatabase = errors.New("database: not configured")

func InsertProxyChecks(ctx context.Context, checks []domain.ProxyCheck, batchSize int) error {
	if len(checks) == 0 {
		return nil
	}
	if DB == nil {
		return ErrNoDatabase
	}
	if batchSize <= 0 {
		batchSize = defaultCheckBatchSize
	}

	if err := DB.WithContext(ctx).CreateInBatches(&checks, batchSize).Error; err != nil {
		return fmt.Errorf("insert proxy checks: %w", err)
	}
	return nil
}

// ListRecentChecks returns the newest checks of one endpoint, newest first.
func ListRecentChecks(ctx context.Context, id domain.Identity, limit int) ([]domain.ProxyCheck, error) {
	if DB == nil {
		return nil, ErrNoDatabase
	}
	if limit <= 0 || limit > maxRecentChecks {
		limit = maxRecentChecks
	}

	var checks []domain.ProxyCheck
	err := DB.WithContext(ctx).
		Where("ip = ? AND port = ?", id.IP, id.Port).
		Order("checked_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("list proxy checks: %w", err)
	}
	return checks, nil
}

// DeleteChecksBefore prunes history older than cutoff and reports how many
// rows were removed.
func DeleteChecksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if DB == nil {
		return 0, ErrNoDatabase
	}
	res := DB.WithContext(ctx).Where("checked_at < ?", cutoff).Delete(&domain.ProxyCheck{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete proxy checks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
