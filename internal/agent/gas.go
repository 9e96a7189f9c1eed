package agent

import (
	"context"

	"OpenMCP-Sui/internal/txbuilder"
)

// DefaultGasEstimate is the flat transfer estimate in MIST.
const DefaultGasEstimate = "2000000"

// GasEstimator estimates the gas cost of a descriptor in MIST.
type GasEstimator interface {
	EstimateGas(ctx context.Context, d txbuilder.Descriptor) (string, error)
}

// FlatGasEstimator returns the same estimate for every transaction.
type FlatGasEstimator string

// EstimateGas implements GasEstimator.
func (f FlatGasEstimator) EstimateGas(context.Context, txbuilder.Descriptor) (string, error) {
	if f == "" {
		return DefaultGasEstimate, nil
	}
	return string(f), nil
}
