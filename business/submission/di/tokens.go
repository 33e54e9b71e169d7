// Package di contains dependency injection tokens for the submission context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/submission/app"
	"github.com/fd1az/mev-arbitrage/business/submission/infra/signer"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Submitter = di.NewToken[*app.Submitter]("submission.Submitter")
)

// Private dependency tokens - internal to submission module
var (
	Signer = di.NewToken[*signer.Local]("submission:signer")
	Routes = di.NewToken[map[uint64]app.Route]("submission:routes")
)

func GetSubmitter(c di.ServiceRegistry) *app.Submitter {
	return di.GetToken(c, Submitter)
}

func GetSigner(c di.ServiceRegistry) *signer.Local {
	return di.GetToken(c, Signer)
}

func GetRoutes(c di.ServiceRegistry) map[uint64]app.Route {
	return di.GetToken(c, Routes)
}
