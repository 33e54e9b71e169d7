package domain

import "time"

// Reading is one sensor's view of a network.
type Reading struct {
	Sensor     string
	ChainID    uint64
	Congestion Ratio
	Density    Ratio
	Samples    int
	At         time.Time
}

// Signals is the blended view published by the sensor hub.
type Signals struct {
	ChainID     uint64
	Congestion  Ratio
	Density     Ratio
	Sensors     []string
	PublishedAt time.Time
	Valid       bool
}

// Blend averages the readings of every sensor that reported.
func Blend(chainID uint64, readings []Reading, at time.Time) Signals {
	if len(readings) == 0 {
		return Signals{ChainID: chainID}
	}
	var c, d int64
	names := make([]string, 0, len(readings))
	for _, r := range readings {
		c += int64(r.Congestion)
		d += int64(r.Density)
		names = append(names, r.Sensor)
	}
	n := int64(len(readings))
	return Signals{
		ChainID:     chainID,
		Congestion:  Ratio(c / n).Clamp(),
		Density:     Ratio(d / n).Clamp(),
		Sensors:     names,
		PublishedAt: at,
		Valid:       true,
	}
}

// CongestionLevel labels a congestion ratio.
type CongestionLevel string

const (
	CongestionLow      CongestionLevel = "low"
	CongestionModerate CongestionLevel = "moderate"
	CongestionHigh     CongestionLevel = "high"
	CongestionVeryHigh CongestionLevel = "very_high"
)

// Level buckets the congestion reading at 0.2, 0.4 and 0.7.
func (s Signals) Level() CongestionLevel {
	switch {
	case s.Congestion < 200_000_000:
		return CongestionLow
	case s.Congestion < 400_000_000:
		return CongestionModerate
	case s.Congestion < 700_000_000:
		return CongestionHigh
	default:
		return CongestionVeryHigh
	}
}
