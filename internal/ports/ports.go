// Package ports defines the narrow capability interfaces the control plane
// depends on: cryptography, content-addressed storage, identity, wallet,
// indexing, audit, the event bus, and time/ID sources. Core components only
// ever see these interfaces; concrete ecosystem modules (or the sandbox test
// doubles) are injected at wiring time.
package ports

import (
	"time"
)

// Clock supplies wall time to components that must not read the host clock
// directly.
type Clock interface {
	Now() time.Time
	NowMillis() int64
}

// IDs generates unique identifiers.
type IDs interface {
	New() string
}
