package container

// Field names with a dedicated statistics accumulator per container. The
// record-encoding layer writes into these to choose its codecs; their
// semantics live entirely in that layer.
var statFields = []string{
	"BF", "CF", "RN", "AP", "RG", "MQ", "NS", "NP", "TS", "MF", "NF",
	"RL", "FN", "FC", "FP", "DL", "BA", "QS", "BS", "TC", "TN", "TL",
	"RI", "RS", "PD", "HC",
}

// Stats accumulates the value frequencies of one record field across a
// container. The container owns one instance per tracked field; the
// record-encoding layer fills it in.
type Stats struct {
	Freq    map[int32]int64
	NumVals int64
	Min     int32
	Max     int32
}

// NewStats creates an empty accumulator.
func NewStats() *Stats {
	return &Stats{Freq: make(map[int32]int64)}
}

// Add records one occurrence of v.
func (s *Stats) Add(v int32) {
	if s.NumVals == 0 || v < s.Min {
		s.Min = v
	}
	if s.NumVals == 0 || v > s.Max {
		s.Max = v
	}
	s.Freq[v]++
	s.NumVals++
}

// Distinct returns the number of distinct values seen.
func (s *Stats) Distinct() int {
	return len(s.Freq)
}
