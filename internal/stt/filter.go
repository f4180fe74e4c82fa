package stt

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultFillerWords contains common English filler words to remove from transcripts.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"like", "you know", "basically",
	"actually", "literally", "so",
	"er", "ah", "hmm", "mm",
	"well", "right", "okay",
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	punctPattern = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// TranscriptFilter strips filler words and noise from STT transcripts. The
// word list is fixed at construction, so a filter is safe for concurrent use.
type TranscriptFilter struct {
	pattern *regexp.Regexp
}

// NewTranscriptFilter creates a filter for the given filler words. A nil
// list means DefaultFillerWords; an empty list disables filtering.
func NewTranscriptFilter(fillerWords []string) *TranscriptFilter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}
	if len(fillerWords) == 0 {
		return &TranscriptFilter{}
	}

	// Word boundaries keep "um" from eating into "umbrella".
	patterns := make([]string, 0, len(fillerWords))
	for _, word := range fillerWords {
		patterns = append(patterns, `\b`+regexp.QuoteMeta(strings.ToLower(word))+`\b`)
	}

	return &TranscriptFilter{
		pattern: regexp.MustCompile(`(?i)(` + strings.Join(patterns, `|`) + `)`),
	}
}

// Clean removes filler words from the transcript and normalizes whitespace.
// Returns the cleaned text and a boolean indicating if the result has meaningful content.
func (f *TranscriptFilter) Clean(text string) (cleaned string, hasMeaningfulContent bool) {
	if text == "" {
		return "", false
	}

	cleaned = text
	if f.pattern != nil {
		cleaned = f.pattern.ReplaceAllString(cleaned, "")
	}

	cleaned = spacePattern.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)

	// Standalone punctuation left over from removed fillers counts as noise.
	if punctPattern.MatchString(cleaned) {
		cleaned = ""
	}

	return cleaned, len(cleaned) > 0
}

// IsFillerOnly returns true if the text contains only filler words.
func (f *TranscriptFilter) IsFillerOnly(text string) bool {
	_, hasMeaningful := f.Clean(text)
	return !hasMeaningful
}

// FilterResponse filters a TranscribeResponse, updating the Text field.
// Returns false if the response contains only filler words and should be discarded.
func (f *TranscriptFilter) FilterResponse(resp *TranscribeResponse) bool {
	if resp == nil {
		return false
	}

	cleaned, hasMeaningful := f.Clean(resp.Text)
	resp.Text = cleaned

	return hasMeaningful
}

// FragmentBuffer accumulates speech fragments until a pause is detected.
// It prevents sending incomplete thoughts to the brain by waiting for
// sufficient content before triggering a send.
type FragmentBuffer struct {
	mu           sync.Mutex
	buffer       strings.Builder
	lastAddTime  int64 // Unix nanoseconds
	timeoutNs    int64 // Timeout in nanoseconds
	minWordCount int
	currentWords int
	timeProvider func() int64 // For testing - returns current time in nanoseconds
}

// FragmentBufferConfig holds configuration for FragmentBuffer.
type FragmentBufferConfig struct {
	TimeoutMs    int64 // Timeout in milliseconds (default 500)
	MinWordCount int   // Minimum word count to send (default 2)
}

// DefaultFragmentConfig returns sensible defaults for fragment accumulation.
func DefaultFragmentConfig() FragmentBufferConfig {
	return FragmentBufferConfig{
		TimeoutMs:    500,
		MinWordCount: 2,
	}
}

// NewFragmentBuffer creates a new FragmentBuffer with the given configuration.
// If config is nil, defaults are used.
func NewFragmentBuffer(config *FragmentBufferConfig) *FragmentBuffer {
	cfg := DefaultFragmentConfig()
	if config != nil {
		if config.TimeoutMs > 0 {
			cfg.TimeoutMs = config.TimeoutMs
		}
		if config.MinWordCount > 0 {
			cfg.MinWordCount = config.MinWordCount
		}
	}

	return &FragmentBuffer{
		timeoutNs:    cfg.TimeoutMs * 1e6, // Convert ms to ns
		minWordCount: cfg.MinWordCount,
		timeProvider: timeNowNano,
	}
}

// timeNowNano returns current time in nanoseconds.
// This is a package-level variable to allow mocking in tests.
var timeNowNano = func() int64 {
	return time.Now().UnixNano()
}

// Add appends a fragment to the buffer.
// Returns true if the fragment was added (non-empty after trimming).
func (fb *FragmentBuffer) Add(fragment string) bool {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return false
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.buffer.Len() > 0 {
		fb.buffer.WriteString(" ")
	}
	fb.buffer.WriteString(fragment)

	fb.currentWords += countWords(fragment)
	fb.lastAddTime = fb.timeProvider()

	return true
}

// countWords counts the number of words in a string.
func countWords(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	return len(strings.Fields(s))
}

// ShouldSend returns true if the buffer contains enough content to send.
// This is true when:
// 1. Word count >= minWordCount, OR
// 2. Timeout has elapsed since the last fragment was added
func (fb *FragmentBuffer) ShouldSend() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.buffer.Len() == 0 {
		return false
	}

	if fb.currentWords >= fb.minWordCount {
		return true
	}

	// Pause detection.
	if fb.lastAddTime > 0 {
		elapsed := fb.timeProvider() - fb.lastAddTime
		if elapsed >= fb.timeoutNs {
			return true
		}
	}

	return false
}

// Flush returns the accumulated text and clears the buffer.
// Returns empty string if buffer is empty.
func (fb *FragmentBuffer) Flush() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	result := fb.buffer.String()
	fb.buffer.Reset()
	fb.currentWords = 0
	fb.lastAddTime = 0

	return result
}

// Peek returns the current buffer content without clearing it.
func (fb *FragmentBuffer) Peek() string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.buffer.String()
}

// WordCount returns the current word count in the buffer.
func (fb *FragmentBuffer) WordCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.currentWords
}

// IsEmpty returns true if the buffer contains no content.
func (fb *FragmentBuffer) IsEmpty() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.buffer.Len() == 0
}
