// Package di contains dependency injection tokens for the flashloan context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/flashloan/app"
	"github.com/fd1az/mev-arbitrage/business/flashloan/infra/depth"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Selector = di.NewToken[*app.Selector]("flashloan.Selector")
)

// Private dependency tokens - internal to flashloan module
var (
	DepthReader = di.NewToken[*depth.Reader]("flashloan:depthReader")
)

func GetSelector(c di.ServiceRegistry) *app.Selector {
	return di.GetToken(c, Selector)
}

func GetDepthReader(c di.ServiceRegistry) *depth.Reader {
	return di.GetToken(c, DepthReader)
}
