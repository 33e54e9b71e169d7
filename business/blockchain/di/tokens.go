// Package di contains dependency injection tokens for the blockchain context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/blockchain/app"
	"github.com/fd1az/mev-arbitrage/business/blockchain/infra/ethereum"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Registry = di.NewToken[*app.Registry]("blockchain.Registry")
)

// Private dependency tokens - internal to blockchain module
var (
	GasOracles = di.NewToken[map[uint64]*ethereum.GasOracle]("blockchain:gasOracles")
)

// GetRegistry returns the per-network block and fee registry.
func GetRegistry(c di.ServiceRegistry) *app.Registry {
	return di.GetToken(c, Registry)
}

func GetGasOracles(c di.ServiceRegistry) map[uint64]*ethereum.GasOracle {
	return di.GetToken(c, GasOracles)
}
