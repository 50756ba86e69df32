package leakcore

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	reportedByPattern = regexp.MustCompile(`(?i)reported by\s+([^:]+):`)
	hackedByPattern   = regexp.MustCompile(`(?i)hacked by\s+(\S+)`)
)

// ExtractDefacement handles one-line defacement notices such as
// "Recent defacement reported by H4x0r: https://victim.example/index.html".
// The host of the first URL is the victim.
func ExtractDefacement(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}

	if urls := findURLs(rawText); len(urls) > 0 {
		ev.URLs = urls[:1]
		if u, err := url.Parse(urls[0]); err == nil {
			ev.VictimName = strings.ToLower(u.Hostname())
		}
	}

	if m := reportedByPattern.FindStringSubmatch(rawText); m != nil {
		ev.GroupName = strings.TrimSpace(m[1])
	} else if m := hackedByPattern.FindStringSubmatch(rawText); m != nil {
		ev.GroupName = strings.TrimSpace(m[1])
	}

	lower := strings.ToLower(rawText)
	if strings.Contains(lower, "defacement") {
		ev.Hints.LeakTypes = append(ev.Hints.LeakTypes, "web_defacement")
	}
	if strings.Contains(lower, "breach") || strings.Contains(lower, "leak") {
		ev.Hints.LeakTypes = append(ev.Hints.LeakTypes, "data_breach")
	}
	return ev
}
