// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model completion.
//
// # Description
//
// Models asked for "only JSON" still wrap objects in markdown fences or add
// prose around them. ExtractJSON strips fences, then slices from the first
// '{' to the last '}'. The result is NOT validated; callers unmarshal it and
// handle their own schema errors.
//
// # Outputs
//
//   - string: The candidate JSON object text.
//   - error: Non-nil when no brace-delimited object exists in the response.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return "", fmt.Errorf("empty response from model")
	}

	// Clean up markdown code blocks
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx == -1 || endIdx <= startIdx {
		return "", fmt.Errorf("no JSON object found in response: %s", truncate(response, 100))
	}
	return response[startIdx : endIdx+1], nil
}

// truncate shortens s to at most n runes for error display.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
