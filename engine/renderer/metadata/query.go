package metadata

type QueryType uint8

const (
	QueryTimestamp QueryType = iota
	// QueryTimestampFrequency reads the tick rate of timestamp queries.
	QueryTimestampFrequency
	QueryOcclusion
	// QueryOcclusionPredicate reports 1 if any sample passed, 0 otherwise.
	QueryOcclusionPredicate
)

func (t QueryType) String() string {
	switch t {
	case QueryTimestamp:
		return "timestamp"
	case QueryTimestampFrequency:
		return "timestamp_frequency"
	case QueryOcclusion:
		return "occlusion"
	default:
		return "occlusion_predicate"
	}
}

// UsesOcclusionPool reports whether the query draws from the occlusion index pool.
func (t QueryType) UsesOcclusionPool() bool {
	return t == QueryOcclusion || t == QueryOcclusionPredicate
}

type QueryDesc struct {
	Name string
	Type QueryType
}

type QueryResult struct {
	Timestamp          uint64
	TimestampFrequency uint64
	PassedSampleCount  uint64
}
