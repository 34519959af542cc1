package audio

import "time"

// Windows splits mono 16-bit PCM into fixed-duration windows with the given
// overlap between consecutive windows. Batch transcription engines degrade on
// long inputs, so callers cut recordings into windows and stitch the
// transcripts back together; the overlap keeps words that straddle a boundary
// inside at least one window.
//
// Each returned slice aliases pcm. If the input fits in a single window it is
// returned as-is. Invalid parameters (non-positive window, overlap >= window)
// yield a single window containing all input.
func Windows(pcm []byte, sampleRate int, window, overlap time.Duration) [][]byte {
	if sampleRate <= 0 || window <= 0 || overlap < 0 || overlap >= window {
		return [][]byte{pcm}
	}

	windowBytes := bytesForDuration(window, sampleRate)
	stepBytes := bytesForDuration(window-overlap, sampleRate)
	if windowBytes <= 0 || stepBytes <= 0 || len(pcm) <= windowBytes {
		return [][]byte{pcm}
	}

	var out [][]byte
	for start := 0; start < len(pcm); start += stepBytes {
		end := start + windowBytes
		if end >= len(pcm) {
			out = append(out, pcm[start:])
			break
		}
		out = append(out, pcm[start:end])
	}
	return out
}

// bytesForDuration returns the byte length of d seconds of mono 16-bit PCM,
// aligned down to a whole sample.
func bytesForDuration(d time.Duration, sampleRate int) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return samples * 2
}
