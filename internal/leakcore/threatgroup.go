package leakcore

import "strings"

// ExtractThreatGroup handles "Threat group: X" / "Victim: Y" posts. Every
// line mentioning a link contributes its URLs.
func ExtractThreatGroup(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}
	for _, line := range nonBlankLines(rawText) {
		switch {
		case ev.GroupName == "" && hasLabel(line, "threat group:"):
			ev.GroupName = strings.TrimSpace(line[len("threat group:"):])
		case ev.VictimName == "" && hasLabel(line, "victim:"):
			ev.VictimName = strings.TrimSpace(line[len("victim:"):])
		case strings.Contains(line, "http"):
			ev.URLs = append(ev.URLs, findURLs(line)...)
		}
	}
	return ev
}

func hasLabel(line, label string) bool {
	return len(line) >= len(label) && strings.EqualFold(line[:len(label)], label)
}
