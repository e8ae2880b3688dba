package market

// IntervalValue tags a value to one time interval of one market with a
// measurement kind. For a given (market, interval) pair the holder keeps at
// most one entry per kind: callers replace in place instead of appending, so
// the lists never grow into append-only logs.
type IntervalValue[T any] struct {
	TimeInterval *TimeInterval
	Market       *Market
	Kind         MeasurementType
	Value        T
}

// FindByInterval returns the first entry for the given interval name, or nil.
func FindByInterval[T any](vals []*IntervalValue[T], name string) *IntervalValue[T] {
	for _, v := range vals {
		if v.TimeInterval != nil && v.TimeInterval.Name == name {
			return v
		}
	}
	return nil
}

// SetIntervalValue stores value for (market, interval) with find-and-replace
// semantics. It returns the updated slice and the number of pre-existing
// entries for the pair. More than one pre-existing entry is a data-integrity
// violation: the first entry is overwritten, the surplus removed, and the
// caller should log a duplicate-detection warning.
func SetIntervalValue[T any](vals []*IntervalValue[T], ti *TimeInterval, m *Market, kind MeasurementType, value T) ([]*IntervalValue[T], int) {
	found := 0
	out := vals[:0]
	for _, v := range vals {
		if v.TimeInterval != nil && v.TimeInterval.Name == ti.Name && v.Market == m {
			found++
			if found == 1 {
				v.Value = value
				out = append(out, v)
			}
			continue
		}
		out = append(out, v)
	}
	if found == 0 {
		out = append(out, &IntervalValue[T]{TimeInterval: ti, Market: m, Kind: kind, Value: value})
	}
	return out, found
}

// PruneExpired drops entries whose owning market has expired, bounding memory
// growth across market rollovers.
func PruneExpired[T any](vals []*IntervalValue[T]) []*IntervalValue[T] {
	out := vals[:0]
	for _, v := range vals {
		if v.Market != nil && v.Market.State == Expired {
			continue
		}
		out = append(out, v)
	}
	return out
}

// RemoveByInterval drops every entry the market holds for the named
// interval. Removal keys on (market, interval) like SetIntervalValue does:
// a real-time sub-interval can share its start time with the day-ahead
// interval it refines, and one market clearing must not erase the other's
// entries.
func RemoveByInterval[T any](vals []*IntervalValue[T], m *Market, name string) []*IntervalValue[T] {
	out := vals[:0]
	for _, v := range vals {
		if v.Market == m && v.TimeInterval != nil && v.TimeInterval.Name == name {
			continue
		}
		out = append(out, v)
	}
	return out
}
