// Package contentdb holds the content-store implementations the sync engine
// reads posts from.
package contentdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meghashyamc/presssync/config"
	"github.com/meghashyamc/presssync/content"
	"github.com/meghashyamc/presssync/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"

	dateLayout = "2006-01-02 15:04:05"
	zeroDate   = "0000-00-00 00:00:00"
)

// New opens the content store selected by content.driver.
func New(ctx context.Context, logger logger.Logger, cfg *config.Config) (content.Store, error) {
	postTypes := cfg.GetSyncedPostTypes()

	switch strings.ToLower(cfg.GetContentDriver()) {
	case DriverSQLite:
		dsn := cfg.GetContentDSN()
		if dsn == "" {
			dsn = "file:presssync.db"
		}
		return OpenSQLite(ctx, logger, dsn, postTypes)
	case DriverMongo:
		return OpenMongo(ctx, logger, cfg.GetContentDSN(), cfg.GetContentDatabase(), postTypes)
	default:
		logger.Error("unknown content driver", "driver", cfg.GetContentDriver())
		return nil, fmt.Errorf("unknown content driver %q", cfg.GetContentDriver())
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return zeroDate
	}
	return t.Format(dateLayout)
}

func parseDate(value string) time.Time {
	if value == "" || value == zeroDate {
		return time.Time{}
	}
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}
