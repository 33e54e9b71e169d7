// Package di contains dependency injection tokens for the mev context.
package di

import (
	"github.com/fd1az/mev-arbitrage/business/mev/app"
	"github.com/fd1az/mev-arbitrage/business/mev/domain"
	"github.com/fd1az/mev-arbitrage/internal/di"
)

// Public service tokens - exposed to other modules
var (
	RiskModel = di.NewToken[*domain.RiskModel]("mev.RiskModel")
	SensorHub = di.NewToken[*app.SensorHub]("mev.SensorHub")
)

// Private dependency tokens - internal to mev module
var (
	MempoolSensors = di.NewToken[[]*app.MempoolSensor]("mev:mempoolSensors")
)

func GetRiskModel(c di.ServiceRegistry) *domain.RiskModel {
	return di.GetToken(c, RiskModel)
}

func GetSensorHub(c di.ServiceRegistry) *app.SensorHub {
	return di.GetToken(c, SensorHub)
}

func GetMempoolSensors(c di.ServiceRegistry) []*app.MempoolSensor {
	return di.GetToken(c, MempoolSensors)
}
