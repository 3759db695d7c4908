package ports

import "github.com/alejandrodnm/polyhedge/internal/domain"

// SignalOracle decides what to trade. A nil signal means "do nothing".
type SignalOracle interface {
	Evaluate(in domain.OracleInput) *domain.Signal
}
