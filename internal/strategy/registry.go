package strategy

import (
	"fmt"

	"github.com/alejandrodnm/tradeflow/internal/domain"
)

// Registration pairs a strategy type with its param validator and
// constructor.
type Registration struct {
	Validate    ParamValidator
	Constructor Constructor
}

// Registry is the lookup table of strategy types by name, populated at
// construction time with the three built-in strategies. Parameter schemas
// are validated on load: an unregistered type or an invalid
// params map fails Build before any goroutine is started.
type Registry struct {
	byType map[string]Registration
}

// NewRegistry returns a Registry pre-populated with Momentum, Pair, and
// Arbitrage.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Registration)}
	r.Register("momentum", Registration{Validate: validateMomentumParams, Constructor: NewMomentum})
	r.Register("pair", Registration{Validate: validatePairParams, Constructor: NewPair})
	r.Register("arbitrage", Registration{Validate: validateArbitrageParams, Constructor: NewArbitrage})
	return r
}

// Register adds or replaces a strategy type.
func (r *Registry) Register(strategyType string, reg Registration) {
	r.byType[strategyType] = reg
}

// Build validates params and constructs strategyType's signal stream.
func (r *Registry) Build(strategyType string, ctx Context, params map[string]any) (<-chan domain.StrategySignal, error) {
	reg, ok := r.byType[strategyType]
	if !ok {
		return nil, fmt.Errorf("strategy.Registry.Build: unknown strategy type %q", strategyType)
	}
	if err := reg.Validate(params); err != nil {
		return nil, fmt.Errorf("strategy.Registry.Build: %s: invalid params: %w", strategyType, err)
	}
	return reg.Constructor(ctx, params)
}
