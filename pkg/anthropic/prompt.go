package anthropic

import "encoding/base64"

// Deterministic sampling for extraction-style calls.
var zeroTemperature = 0.0

// DeterministicTemperature returns a pointer to a zero sampling temperature.
// Every pipeline call uses it so repeated runs over the same document
// produce the same output.
func DeterministicTemperature() *float64 {
	t := zeroTemperature
	return &t
}

// BuildCachedSystemBlocks constructs system content blocks with a cache
// breakpoint set to a 1-hour TTL. Stage system prompts are stable across
// documents, so repeated pipeline runs hit the warm cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "1h",
			},
		},
	}
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
