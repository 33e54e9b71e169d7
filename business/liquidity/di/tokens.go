// Package di contains dependency injection tokens for the liquidity context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/liquidity/app"
	"github.com/fd1az/mev-arbitrage/business/liquidity/domain"
	"github.com/fd1az/mev-arbitrage/business/liquidity/infra/multicall"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Store   = di.NewToken[*app.Store]("liquidity.Store")
	Readers = di.NewToken[map[uint64]*multicall.Reader]("liquidity.Readers")
	Venues  = di.NewToken[[]domain.Venue]("liquidity.Venues")
)

// Private dependency tokens - internal to liquidity module
var (
	Refresher = di.NewToken[*app.Refresher]("liquidity:refresher")
	BookFeed  = di.NewToken[app.BookFeed]("liquidity:bookFeed")
)

func GetStore(c di.ServiceRegistry) *app.Store {
	return di.GetToken(c, Store)
}

func GetReaders(c di.ServiceRegistry) map[uint64]*multicall.Reader {
	return di.GetToken(c, Readers)
}

func GetVenues(c di.ServiceRegistry) []domain.Venue {
	return di.GetToken(c, Venues)
}

func GetRefresher(c di.ServiceRegistry) *app.Refresher {
	return di.GetToken(c, Refresher)
}

func GetBookFeed(c di.ServiceRegistry) app.BookFeed {
	return di.GetToken(c, BookFeed)
}
