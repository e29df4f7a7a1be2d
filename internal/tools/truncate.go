package tools

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultMaxResponseBytes bounds the size of the data a tool may hand back.
const DefaultMaxResponseBytes = 50 * 1024

// truncatedData replaces tool output that exceeds the size limit.
type truncatedData struct {
	Truncated      bool   `json:"_truncated"`
	OriginalBytes  int    `json:"_original_bytes"`
	TruncatedBytes int    `json:"_truncated_bytes"`
	TruncationNote string `json:"_truncation_note"`
	PartialData    string `json:"partial_data"`
}

// truncateResult returns result unchanged when its data fits in maxBytes once
// encoded as JSON, and a copy carrying a truncatedData otherwise.
func truncateResult(result *Result, maxBytes int) *Result {
	if result == nil || result.Data == nil || maxBytes <= 0 {
		return result
	}

	dataBytes, err := json.Marshal(result.Data)
	if err != nil {
		return result
	}

	if len(dataBytes) <= maxBytes {
		return result
	}

	// Keep the first 80% of the budget as a preview.
	partial := string(dataBytes)
	if limit := maxBytes * 80 / 100; len(partial) > limit {
		for limit > 0 && !utf8.RuneStart(partial[limit]) {
			limit--
		}
		partial = partial[:limit]
	}

	summary := result.Summary
	if summary != "" {
		summary = fmt.Sprintf("%s [TRUNCATED: %d→%d bytes]", summary, len(dataBytes), maxBytes)
	} else {
		summary = fmt.Sprintf("[TRUNCATED: %d→%d bytes]", len(dataBytes), maxBytes)
	}

	return &Result{
		Success: result.Success,
		Data: &truncatedData{
			Truncated:      true,
			OriginalBytes:  len(dataBytes),
			TruncatedBytes: maxBytes,
			TruncationNote: fmt.Sprintf("Response truncated from %d to ~%d bytes. Narrow the tool parameters to get the full output.", len(dataBytes), maxBytes),
			PartialData:    partial,
		},
		Error:   result.Error,
		Summary: summary,
	}
}
