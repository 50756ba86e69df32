package leakcore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Extractor turns one feed message into an IntermediateEvent. Implementations
// never fail: anything they cannot locate is left empty.
type Extractor interface {
	Extract(rawText, messageID, messageURL string) IntermediateEvent
}

// ExtractorFunc adapts a plain function to the Extractor interface.
type ExtractorFunc func(rawText, messageID, messageURL string) IntermediateEvent

func (f ExtractorFunc) Extract(rawText, messageID, messageURL string) IntermediateEvent {
	return f(rawText, messageID, messageURL)
}

// Format names, used by configuration to bind extra channels.
const (
	FormatLabeledBlock = "labeled-block"
	FormatAlert        = "structured-alert"
	FormatFiveLine     = "five-line"
	FormatDefacement   = "defacement"
	FormatThreatGroup  = "threat-group"
	FormatGeneric      = "generic"
)

var formats = map[string]Extractor{
	FormatLabeledBlock: ExtractorFunc(ExtractLabeledBlock),
	FormatAlert:        ExtractorFunc(ExtractAlert),
	FormatFiveLine:     ExtractorFunc(ExtractFiveLine),
	FormatDefacement:   ExtractorFunc(ExtractDefacement),
	FormatThreatGroup:  ExtractorFunc(ExtractThreatGroup),
	FormatGeneric:      ExtractorFunc(ExtractGeneric),
}

// Formats lists the known extractor format names.
func Formats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry dispatches raw messages to the extractor bound to their feed.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	fallback   Extractor
}

// NewRegistry returns an empty registry that sends every feed to fallback.
// A nil fallback means the generic labeled-line extractor.
func NewRegistry(fallback Extractor) *Registry {
	if fallback == nil {
		fallback = ExtractorFunc(ExtractGeneric)
	}
	return &Registry{extractors: make(map[string]Extractor), fallback: fallback}
}

// DefaultRegistry binds the feeds whose formats are known.
func DefaultRegistry() *Registry {
	r := NewRegistry(nil)
	r.Register("telegram_feed", formats[FormatLabeledBlock])
	r.Register("hackmanac_cybernews", formats[FormatAlert])
	r.Register("RansomFeedNews", formats[FormatFiveLine])
	r.Register("ctifeeds", formats[FormatDefacement])
	r.Register("venarix", formats[FormatThreatGroup])
	return r
}

// Register binds a feed identity to an extractor, replacing any earlier one.
func (r *Registry) Register(channel string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[channelKey(channel)] = e
}

// Bind registers channel against one of the named formats.
func (r *Registry) Bind(channel, format string) error {
	e, ok := formats[format]
	if !ok {
		return fmt.Errorf("unknown extractor format %q", format)
	}
	r.Register(channel, e)
	return nil
}

// Channels lists the bound feed identities.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(channel string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.extractors[channelKey(channel)]; ok {
		return e
	}
	return r.fallback
}

// Extract runs the extractor bound to channel. A panicking extractor yields
// an event carrying only the message identity.
func (r *Registry) Extract(channel, rawText, messageID, messageURL string) (ev IntermediateEvent) {
	base := IntermediateEvent{
		SourceChannel: channel,
		RawText:       rawText,
		MessageID:     messageID,
		MessageURL:    messageURL,
	}
	defer func() {
		if recover() != nil {
			ev = base
		}
	}()

	ev = r.lookup(channel).Extract(rawText, messageID, messageURL)
	ev.SourceChannel = channel
	ev.RawText = rawText
	if ev.MessageID == "" {
		ev.MessageID = messageID
	}
	if ev.MessageURL == "" {
		ev.MessageURL = messageURL
	}
	return ev
}

// channelKey folds the spellings a feed identity shows up under
// ("@ctifeeds", "https://t.me/ctifeeds", "CTIFeeds") onto one key.
func channelKey(channel string) string {
	c := strings.TrimSpace(channel)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		c = strings.TrimPrefix(c, prefix)
	}
	return strings.ToLower(strings.TrimSuffix(c, "/"))
}

var (
	urlPattern    = regexp.MustCompile(`https?://[^\s<>"']+`)
	domainPattern = regexp.MustCompile(`\b(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}\b`)
)

// findURLs returns every http(s) URL in text, in order, with trailing
// punctuation trimmed.
func findURLs(text string) []string {
	var out []string
	for _, u := range urlPattern.FindAllString(text, -1) {
		if u = strings.TrimRight(u, ").,;:!?"); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// stripMarker drops the leading emoji or bullet run in front of a value.
func stripMarker(s string) string {
	return strings.TrimSpace(strings.TrimLeftFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// nonBlankLines returns the trimmed non-empty lines of text.
func nonBlankLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// splitList splits on commas and slashes, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '/' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
