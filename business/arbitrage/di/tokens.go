// Package di contains dependency injection tokens for the arbitrage context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/arbitrage/app"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Pipeline = di.NewToken[*app.Pipeline]("arbitrage.Pipeline")
)

// Private dependency tokens - internal to arbitrage module
var (
	Engine   = di.NewToken[*app.Engine]("arbitrage:engine")
	Finder   = di.NewToken[*app.PathFinder]("arbitrage:finder")
	Reporter = di.NewToken[app.Reporter]("arbitrage:reporter")
)

// GetPipeline returns the detection-to-submission pipeline.
func GetPipeline(c di.ServiceRegistry) *app.Pipeline {
	return di.GetToken(c, Pipeline)
}

func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}

func GetFinder(c di.ServiceRegistry) *app.PathFinder {
	return di.GetToken(c, Finder)
}

func GetReporter(c di.ServiceRegistry) app.Reporter {
	return di.GetToken(c, Reporter)
}
