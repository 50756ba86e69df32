package leakcore

import (
	"regexp"
	"strings"
)

var (
	sourceTitlePattern = regexp.MustCompile(`^\[(.+?)\]\s*(.+)$`)
	targetValuePattern = regexp.MustCompile(`^(.+?)\s*(?:\(([^)]+)\))?\s*$`)
	volumeDigits       = regexp.MustCompile(`[\d,]+`)
	domainSplit        = regexp.MustCompile(`[,;\s]+`)
)

// labelPatterns recognize "Label: value" lines, case-insensitively. The
// alternatives cover the spellings seen across feed revisions.
var labelPatterns = []struct {
	field string
	re    *regexp.Regexp
}{
	{"target", regexp.MustCompile(`(?i)^(?:target(?:\s+service)?|service|victim)\s*:\s*(.+)$`)},
	{"domains", regexp.MustCompile(`(?i)^domains?\s*:\s*(.+)$`)},
	{"leak", regexp.MustCompile(`(?i)^leak(?:\s*types?)?\s*:\s*(.+)$`)},
	{"volume", regexp.MustCompile(`(?i)^(?:estimated\s+)?volume\s*:\s*(.+)$`)},
	{"confidence", regexp.MustCompile(`(?i)^confidence\s*:\s*(.+)$`)},
}

// ExtractLabeledBlock handles the "[Source] Title" block followed by
// labeled lines:
//
//	[DarkForum A] KR education site users dump 2024
//	Target: Example Korean Education Service (edu-example.co.kr)
//	Leak: email, password_hash, phone
//	Volume: 15000
//	Confidence: high
func ExtractLabeledBlock(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}
	lines := nonBlankLines(rawText)
	if len(lines) == 0 {
		return ev
	}

	if m := sourceTitlePattern.FindStringSubmatch(lines[0]); m != nil {
		ev.Hints.SourceLabel = strings.TrimSpace(m[1])
		ev.Hints.Title = strings.TrimSpace(m[2])
	} else {
		ev.Hints.Title = lines[0]
	}

	scanLabels(&ev, lines[1:])
	return ev
}

// ExtractGeneric is the fallback for feeds without a dedicated extractor.
// It only understands labeled lines.
func ExtractGeneric(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}
	scanLabels(&ev, nonBlankLines(rawText))
	return ev
}

func scanLabels(ev *IntermediateEvent, lines []string) {
	var unlabeled []string
	for _, line := range lines {
		field, value := matchLabel(line)
		switch field {
		case "target":
			service, domain := splitTarget(value)
			if ev.VictimName == "" {
				ev.VictimName = service
			}
			if domain != "" {
				ev.Hints.Domains = append(ev.Hints.Domains, domain)
			}
		case "domains":
			for _, d := range domainSplit.Split(value, -1) {
				if d != "" {
					ev.Hints.Domains = append(ev.Hints.Domains, d)
				}
			}
		case "leak":
			ev.Hints.LeakTypes = append(ev.Hints.LeakTypes, splitList(value)...)
		case "volume":
			if v, ok := ParseCount(volumeDigits.FindString(value)); ok {
				ev.Hints.Volume = v
			}
		case "confidence":
			ev.Hints.Confidence = ParseConfidence(value)
		default:
			unlabeled = append(unlabeled, line)
		}
	}

	if len(ev.Hints.Domains) > 0 {
		return
	}
	for _, line := range unlabeled {
		if d := domainPattern.FindString(line); d != "" {
			ev.Hints.Domains = append(ev.Hints.Domains, d)
			return
		}
	}
}

func matchLabel(line string) (field, value string) {
	for _, lp := range labelPatterns {
		if m := lp.re.FindStringSubmatch(line); m != nil {
			return lp.field, strings.TrimSpace(m[1])
		}
	}
	return "", ""
}

// splitTarget separates "Service Name (domain.tld)" into its parts.
func splitTarget(value string) (service, domain string) {
	m := targetValuePattern.FindStringSubmatch(value)
	if m == nil {
		return strings.TrimSpace(value), ""
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}
