package publish

// Stats tracks per-price-mirror publish counters and a bucketed
// slot-latency histogram, mirroring the fields a deployed oracle
// publisher tracks per symbol: how many quotes were sent, how many made
// it into a fresh aggregate, how many were dropped by a lost
// subscription update, and the end-to-end latency distribution in slots.
type Stats struct {
	NumSent    uint64
	NumRecv    uint64
	NumAgg     uint64
	NumSubDrop uint64

	aggSlot uint64
	pubSlot uint64

	histogram [numBuckets]uint64
}

const numBuckets = 32

// RecordSent counts one outbound update_price call.
func (s *Stats) RecordSent() {
	s.NumSent++
}

// RecordSubDrop counts one interim update lost to a subscription gap.
func (s *Stats) RecordSubDrop() {
	s.NumSubDrop++
}

// RecordRecv folds in one aggregate observation: currSlot is the slot the
// mirror learned of the update at, aggSlot is the aggregate's own slot,
// pubSlot is this publisher's most recent contributing slot. A no-op
// before the first RecordSent, matching the "nothing to measure yet"
// guard the original client applies.
func (s *Stats) RecordRecv(currSlot, aggSlot, pubSlot uint64) {
	if s.NumSent == 0 {
		return
	}
	if s.pubSlot != 0 {
		var dslot uint64
		if currSlot > pubSlot {
			dslot = currSlot - pubSlot
		}
		if dslot >= numBuckets {
			dslot = numBuckets - 1
		}
		s.histogram[dslot]++
	}
	if aggSlot != s.aggSlot {
		s.NumAgg++
		s.aggSlot = aggSlot
	}
	if pubSlot != s.pubSlot {
		s.NumRecv++
		s.pubSlot = pubSlot
	}
}

// HitRate is the percentage of sent quotes that appeared in an aggregate.
func (s *Stats) HitRate() float64 {
	if s.NumSent == 0 {
		return 0
	}
	return 100 * float64(s.NumRecv) / float64(s.NumSent)
}

// Histogram returns a copy of the 32-bucket slot-latency distribution.
func (s *Stats) Histogram() [numBuckets]uint64 {
	return s.histogram
}

// Clear resets every counter and the histogram.
func (s *Stats) Clear() {
	*s = Stats{}
}
