package testutil

import (
	"math/rand"
	"sort"
)

// SplitChunks cuts data at the given offsets. Offsets are clamped to the data
// and sorted, so SplitChunks(data, 0) yields an empty first chunk.
func SplitChunks(data []byte, cuts ...int) [][]byte {
	offsets := make([]int, 0, len(cuts))
	for _, c := range cuts {
		offsets = append(offsets, max(0, min(c, len(data))))
	}
	sort.Ints(offsets)

	chunks := make([][]byte, 0, len(offsets)+1)
	prev := 0
	for _, off := range offsets {
		chunks = append(chunks, data[prev:off])
		prev = off
	}
	return append(chunks, data[prev:])
}

// RandomChunks cuts data into consecutive chunks of 1 to maxSize bytes.
func RandomChunks(rng *rand.Rand, data []byte, maxSize int) [][]byte {
	if maxSize < 1 {
		maxSize = 1
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rng.Intn(maxSize)
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
