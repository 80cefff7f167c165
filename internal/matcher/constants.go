package matcher

// DefaultThreshold is the acceptance threshold used by dlib-based 128-d face
// encodings: two faces at Euclidean distance <= 0.6 are the same person.
const DefaultThreshold = 0.6

// HNSW index parameters
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	HNSWEfSearch = 100

	// HNSWCandidates is how many approximate neighbors are re-ranked with
	// the exact distance before picking the best one.
	HNSWCandidates = 10
)
