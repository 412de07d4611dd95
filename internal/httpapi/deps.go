package httpapi

import (
	"go.uber.org/zap"

	"github.com/devrev/kissvdb/internal/cache"
	"github.com/devrev/kissvdb/internal/config"
	"github.com/devrev/kissvdb/internal/diskmanager"
	"github.com/devrev/kissvdb/internal/docstore"
	"github.com/devrev/kissvdb/internal/eventbus"
	"github.com/devrev/kissvdb/internal/metrics"
	"github.com/devrev/kissvdb/internal/state"
	"github.com/devrev/kissvdb/internal/subscription"
	"github.com/devrev/kissvdb/internal/validation"
	"github.com/devrev/kissvdb/internal/vector"
)

// Deps bundles every component a handler needs. Handlers never reach past
// Deps into a global; everything they touch is threaded through here,
// mirroring how api-gateway's handlers close over a Deps struct.
type Deps struct {
	Cfg        *config.Config
	Bus        *eventbus.Bus
	State      *state.Engine
	Vectors    *vector.Manager
	Cache      *cache.Cache
	Validator  *validation.Validator
	Disk       *diskmanager.Manager
	Metrics    *metrics.Metrics
	Subscriber *subscription.Subscriber
	Docs       *docstore.Store
	Logger     *zap.Logger

	// Ready reports whether startup recovery has completed; wired to
	// internal/health's readiness flag.
	Ready func() bool
}
