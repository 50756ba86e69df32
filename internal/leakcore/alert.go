package leakcore

import (
	"regexp"
	"strings"
	"time"
)

const alertMarker = "🚨"

var (
	flagPattern       = regexp.MustCompile(`[\x{1F1E6}-\x{1F1FF}]{2}`)
	observedPattern   = regexp.MustCompile(`(?i)^observed\s*[:\-]\s*(.+)$`)
	statusPattern     = regexp.MustCompile(`(?i)^status\s*:\s*(.+)$`)
	keywordPattern    = regexp.MustCompile(`(?i)^(sector|threat class)\s*:\s*(.+)$`)
	exfilPattern      = regexp.MustCompile(`(?i)exfiltrated\s+(.+?)\s+of\s+([^,.]+?)(?:,\s*including\s+([^.]+))?(?:\.|$)`)
	sizePattern       = regexp.MustCompile(`(?i)([\d,.]+)\s*(kb|mb|gb|tb|pb|k|m|b|records|files|entries)\b`)
	fileFormatPattern = regexp.MustCompile(`(?i)\b(pdf|csv|xls|xlsx|txt|json|sql|zip|rar|7z)\b`)
	pricePattern      = regexp.MustCompile(`(?i)(for\s+\$\s*[\d,.]+|\$\s*[\d,.]+|\d+\s*btc)`)
	salePattern       = regexp.MustCompile(`(?i)\b(?:for sale|sell(?:ing|s)?)\b`)
	screenshotPattern = regexp.MustCompile(`(?i)\b([\w\-./]+\.(?:png|jpg|jpeg|webp))\b`)
	andSplit          = regexp.MustCompile(`(?i),\s*(?:and\s+)?|\s+and\s+`)
)

var statusConfidence = map[string]Confidence{
	"pending verification": ConfidenceMedium,
	"confirmed":            ConfidenceHigh,
}

var observedLayouts = []string{"Jan 2, 2006", "January 2, 2006", "2006-01-02"}

// ExtractAlert handles the structured breach-alert format:
//
//	🚨Cyberattack Alert ‼️
//
//	🇺🇸USA - Acme Health
//
//	Qilin hacking group claims to have breached Acme Health.
//	...
//	Sector: Healthcare
//	Status: Pending verification
//	Observed: Dec 7, 2025
//
// A message whose first line is not an alert header yields an empty event.
func ExtractAlert(rawText, messageID, messageURL string) IntermediateEvent {
	ev := IntermediateEvent{MessageID: messageID, MessageURL: messageURL}
	lines := strings.Split(rawText, "\n")
	header := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(header, alertMarker) && !strings.Contains(header, "Alert") {
		return ev
	}

	if len(lines) > 2 {
		place := strings.TrimSpace(lines[2])
		if flag := flagPattern.FindString(place); flag != "" {
			ev.Hints.Country = flagToISO(flag)
		}
		place = stripMarker(place)
		if country, service, ok := strings.Cut(place, " - "); ok {
			ev.VictimName = strings.TrimSpace(service)
			if ev.Hints.Country == "" {
				ev.Hints.Country = strings.TrimSpace(country)
			}
		} else {
			ev.VictimName = place
		}
	}

	ev.Hints.Confidence = ConfidenceMedium
	var section []string
	inSection := true
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || i < 3 {
			continue
		}
		if ev.GroupName == "" {
			ev.GroupName = claimedActor(line)
		}
		if m := observedPattern.FindStringSubmatch(line); m != nil {
			inSection = false
			ev.PublishedAtText = strings.TrimSpace(m[1])
			ev.Hints.PostedAt = parseFirst(observedLayouts, ev.PublishedAtText)
			continue
		}
		if m := statusPattern.FindStringSubmatch(line); m != nil {
			inSection = false
			status := strings.TrimSpace(m[1])
			if c, ok := statusConfidence[strings.ToLower(status)]; ok {
				ev.Hints.Confidence = c
			}
			ev.Tags = append(ev.Tags, "status:"+status)
			continue
		}
		if m := keywordPattern.FindStringSubmatch(line); m != nil {
			inSection = false
			key := strings.ReplaceAll(strings.ToLower(m[1]), " ", "_")
			ev.Tags = append(ev.Tags, key+":"+strings.TrimSpace(m[2]))
			continue
		}
		if inSection {
			section = append(section, line)
		}
	}
	ev.URLs = findURLs(rawText)

	body := strings.Join(section, " ")
	if m := exfilPattern.FindStringSubmatch(body); m != nil {
		ev.Hints.Volume = Volume{Text: strings.TrimSpace(m[1])}
		ev.Hints.LeakTypes = append(ev.Hints.LeakTypes, strings.TrimSpace(m[2]))
		for _, item := range andSplit.Split(m[3], -1) {
			if item = strings.TrimSpace(item); item != "" {
				ev.Hints.LeakTypes = append(ev.Hints.LeakTypes, item)
			}
		}
	} else if m := sizePattern.FindStringSubmatch(body); m != nil {
		ev.Hints.Volume = Volume{Text: m[1] + " " + strings.ToUpper(m[2])}
	}
	for _, f := range fileFormatPattern.FindAllString(body, -1) {
		ev.Hints.FileFormats = append(ev.Hints.FileFormats, f)
	}
	if m := pricePattern.FindString(body); m != "" {
		ev.Hints.DealTerms = strings.TrimRight(strings.TrimSpace(m), ".,")
	} else if salePattern.MatchString(body) {
		ev.Hints.DealTerms = "for sale"
	}
	for _, m := range screenshotPattern.FindAllStringSubmatch(rawText, -1) {
		ev.Hints.ScreenshotRefs = append(ev.Hints.ScreenshotRefs, m[1])
	}
	return ev
}

// claimedActor returns the actor named in a "... claims to have breached"
// sentence, without a trailing "hacking group".
func claimedActor(line string) string {
	for _, marker := range []string{" claims to have breached", " claim to have breached", " hacking group"} {
		if before, _, ok := strings.Cut(line, marker); ok {
			before = strings.TrimSuffix(strings.TrimSpace(before), " hacking group")
			return strings.TrimSpace(before)
		}
	}
	return ""
}

// flagToISO converts a regional-indicator pair into its ISO 3166 code.
func flagToISO(flag string) string {
	var b strings.Builder
	for _, r := range flag {
		b.WriteRune(r - 0x1F1E6 + 'A')
	}
	return b.String()
}

func parseFirst(layouts []string, value string) time.Time {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
