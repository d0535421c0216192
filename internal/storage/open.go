package storage

import (
	"context"
	"errors"
	"strings"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"
)

// Store is the persistence API used by the state store, the session
// manager and the notifier.
type Store interface {
	AppendDelivery(ctx context.Context, e DeliveryEntry) error

	PutState(ctx context.Context, sourceKey, recordKey string, e monitor.StateEntry) error
	LoadStates(ctx context.Context, fn func(sourceKey, recordKey string, e monitor.StateEntry)) error

	LoadSession(ctx context.Context, sourceKey string) ([]byte, bool, error)
	SaveSession(ctx context.Context, sourceKey string, token []byte) error
	DeleteSession(ctx context.Context, sourceKey string) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func stateKey(sourceKey, recordKey string) string { return sourceKey + "\x1f" + recordKey }

func splitStateKey(k string) (string, string, bool) {
	i := strings.IndexByte(k, '\x1f')
	if i < 0 {
		return "", "", false
	}
	return k[:i], k[i+1:], true
}
