//go:build !sqlite

package storage

import (
	"fmt"

	logx "promptclock/pkg/logx"
)

func openSQLite(cfg Config, _ logx.Logger) (Store, error) {
	return nil, fmt.Errorf("%w: sqlite driver requested for %q but this binary was built without -tags sqlite", ErrDisabled, cfg.Path)
}
