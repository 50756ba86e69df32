package leakcore

import "regexp"

var (
	idLinePattern   = regexp.MustCompile(`(?i)^id\s*:\s*(\d+)`)
	trailingZone    = regexp.MustCompile(`\s+[A-Z]{2,5}$`)
	timestampLayout = "Mon, 02 Jan 2006 15:04:05"
)

// ExtractFiveLine handles the fixed five-line ransomware feed format:
//
//	ID: 27781
//	⚠️ Sun, 07 Dec 2025 14:42:25 CET
//	🥷 sinobi
//	🎯 Quality Companies, USA
//	🔗 http://www.ransomfeed.it/index.php?page=post_details&id_post=27781
//
// Short or reordered messages are sliced best-effort rather than rejected.
func ExtractFiveLine(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}
	lines := nonBlankLines(rawText)
	at := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}

	if m := idLinePattern.FindStringSubmatch(at(0)); m != nil {
		ev.Tags = append(ev.Tags, "id:"+m[1])
		if ev.MessageID == "" {
			ev.MessageID = m[1]
		}
	}

	stamp := trailingZone.ReplaceAllString(stripMarker(at(1)), "")
	ev.PublishedAtText = stamp
	ev.Hints.PostedAt = parseFirst([]string{timestampLayout, "Mon, 2 Jan 2006 15:04:05"}, stamp)

	ev.GroupName = stripMarker(at(2))
	ev.VictimName = stripMarker(at(3))

	if urls := findURLs(at(4)); len(urls) > 0 {
		ev.URLs = urls[:1]
	} else {
		ev.URLs = findURLs(rawText)
	}
	return ev
}
