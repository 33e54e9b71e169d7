// Package di contains dependency injection tokens for the execution context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/execution/app"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Builder = di.NewToken[*app.Builder]("execution.Builder")
)

func GetBuilder(c di.ServiceRegistry) *app.Builder {
	return di.GetToken(c, Builder)
}
