package llm

import "strings"

// StripCodeFence removes a surrounding markdown code fence (``` or ```json)
// if the reply is wrapped in one.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// drop the info string (e.g. "json") up to the first newline
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		info := strings.TrimSpace(rest[:nl])
		if info == "" || !strings.ContainsAny(info, "{[") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.LastIndex(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ExtractJSONObject returns the outermost {...} span of s, or false when s
// holds no balanced object. Braces inside JSON strings are ignored.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// RecoverJSON strips fences and isolates the JSON object in a model reply.
func RecoverJSON(reply string) (string, bool) {
	return ExtractJSONObject(StripCodeFence(reply))
}
