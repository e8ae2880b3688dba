// Package market implements a transactive node's market engine: the market
// state machine, its auction negotiation behaviors, the day-ahead to
// real-time market cascade, the neighbor signal exchange model, and the
// piecewise-linear balancing that discovers a locational marginal price for
// every active time interval.
//
// A Market advances through a fixed forward-only sequence of states. Timing
// is derived from the market clearing time and configured lead times. Each
// tick of the node's scheduler calls Events exactly once per active market;
// Events fires at most one state transition and then runs the current state's
// recurring hook. State behaviors are plain function values selected by
// market kind at construction, so auction variants differ only in the hook
// set they install.
package market
