package market

import (
	"time"

	"github.com/kilianp07/transactive/core/logger"
)

// NewDayAheadAuction builds a day-ahead auction whose spawn hook also seeds
// the corrective real-time series: each coarse delivery interval of the
// spawned successor is refined by one real-time auction per RealTimeDuration
// sub-interval, clearing RealTimeLeadTime before its sub-interval starts.
func NewDayAheadAuction(cfg Config, log logger.Logger) *Market {
	b := auctionBehavior()
	base := spawnSuccessor(NewDayAheadAuction)
	b.Spawn = func(m *Market, n *Node, clearing time.Time) {
		base(m, n, clearing)
		spawned := n.MarketInSeries(m.SeriesName, clearing)
		if spawned != nil && m.cfg.RealTimeSeriesName != "" {
			SpawnRealTimeRefinements(spawned, n)
		}
	}
	return New(KindDayAheadAuction, cfg, b, log)
}

// SpawnRealTimeRefinements creates the chain of real-time auctions refining
// the day-ahead market's delivery intervals. Each child inherits the newest
// flag of its series from its predecessor; at series startup, with no
// predecessor yet, the child falls back to the day-ahead market's price model
// and defaults.
func SpawnRealTimeRefinements(da *Market, n *Node) {
	cfg := da.Cfg()
	rtDur := cfg.RealTimeDuration
	if rtDur <= 0 {
		return
	}
	lead := cfg.RealTimeLeadTime
	if lead <= 0 {
		lead = rtDur
	}

	for _, coarse := range da.TimeIntervals {
		for sub := coarse.StartTime; sub.Before(coarse.End()); sub = sub.Add(rtDur) {
			clearing := sub.Add(-lead)
			if n.MarketInSeries(cfg.RealTimeSeriesName, clearing) != nil {
				continue
			}
			rtCfg := Config{
				SeriesName:          cfg.RealTimeSeriesName,
				ClearingTime:        clearing,
				ClearingInterval:    rtDur,
				IntervalDuration:    rtDur,
				IntervalsToClear:    1,
				ActivationLeadTime:  lead,
				NegotiationLeadTime: lead,
				MarketLeadTime:      lead,
				DeliveryLeadTime:    lead,
				DefaultPrice:        cfg.DefaultPrice,
				RetryWarningTicks:   cfg.RetryWarningTicks,
			}
			rt := NewRealTimeAuction(rtCfg, da.log)
			rt.ToBeRefined = da

			if prior := n.NewestInSeries(cfg.RealTimeSeriesName); prior != nil {
				rt.PriorInSeries = prior
				rt.PriceModel = prior.PriceModel
				prior.IsNewest = false
			} else {
				rt.PriceModel = da.PriceModel
			}
			rt.IsNewest = true

			rt.CheckIntervals()
			rt.CheckMarginalPrices(n)
			n.AddMarket(rt)
		}
	}
	da.log.Infof("market %s: spawned real-time refinements in series %s", da.Name, cfg.RealTimeSeriesName)
}
