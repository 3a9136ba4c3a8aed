package engine

// Range is one contiguous byte interval of the target resource, with
// inclusive bounds, assigned to a single worker.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Plan splits totalSize bytes into chunkCount contiguous, disjoint ranges
// whose union is exactly [0, totalSize). The base chunk size is the integer
// quotient; the final chunk absorbs the remainder. Degenerate inputs yield
// an empty plan and the caller falls back to single-stream.
func Plan(totalSize int64, chunkCount int) []Range {
	if totalSize <= 0 || chunkCount <= 0 {
		return nil
	}

	chunkSize := totalSize / int64(chunkCount)
	if chunkSize == 0 {
		// Fewer bytes than chunks: a single range covers everything.
		return []Range{{Start: 0, End: totalSize - 1}}
	}

	ranges := make([]Range, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize - 1
		if i == chunkCount-1 {
			end = totalSize - 1
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges
}
