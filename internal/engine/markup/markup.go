// Package markup splits text handed to a speech engine into plain words,
// inline directives such as [:phoneme on], and bracketed phoneme sequences
// with optional <duration,pitch> annotations.
package markup

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Kind is the type of a parsed segment.
type Kind int

const (
	// KindText is plain text to be read aloud.
	KindText Kind = iota
	// KindDirective is an inline engine command, e.g. [:rate 200].
	KindDirective
	// KindPhoneme is a single phoneme from a bracketed sequence.
	KindPhoneme
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDirective:
		return "directive"
	case KindPhoneme:
		return "phoneme"
	default:
		return "unknown"
	}
}

const (
	// MaxDuration is the longest phoneme duration an annotation may request.
	// Longer values are clamped so they fit a signed 16-bit millisecond count.
	MaxDuration = 32767 * time.Millisecond

	// MinPitch and MaxPitch bound annotation pitch note numbers.
	MinPitch = 1
	MaxPitch = 37

	// PhonemeOnDirective enables phoneme annotations.
	PhonemeOnDirective = "[:phoneme on]"
)

// Segment is one unit of parsed input.
type Segment struct {
	Kind Kind

	// Text holds the words for KindText, the directive name for
	// KindDirective and the phoneme symbol for KindPhoneme.
	Text string

	// Args are the directive arguments.
	Args []string

	// Duration and Pitch are set when a phoneme carries an annotation. Zero
	// means the engine default.
	Duration time.Duration
	Pitch    int
}

// Parser turns text into segments. Directives that change parsing, such as
// [:phoneme on], persist across calls, so one Parser belongs to one engine
// instance.
type Parser struct {
	// Phonemes enables interpretation of bracketed phoneme sequences.
	Phonemes bool
}

// Parse normalizes text to NFC and splits it into segments. Directives are
// applied to the parser state as they are encountered.
func (p *Parser) Parse(text string) []Segment {
	text = norm.NFC.String(text)

	var (
		segs []Segment
		buf  strings.Builder
	)
	flush := func() {
		if s := strings.Join(strings.Fields(buf.String()), " "); s != "" {
			segs = append(segs, Segment{Kind: KindText, Text: s})
		}
		buf.Reset()
	}

	for i := 0; i < len(text); {
		if text[i] != '[' {
			buf.WriteByte(text[i])
			i++
			continue
		}

		end := strings.IndexByte(text[i:], ']')
		if end < 0 {
			// Unterminated bracket, read the rest literally.
			buf.WriteString(text[i:])
			break
		}
		body := text[i+1 : i+end]

		switch {
		case strings.HasPrefix(body, ":"):
			flush()
			if d, ok := parseDirective(body[1:]); ok {
				p.apply(d)
				segs = append(segs, d)
			}
		case p.Phonemes:
			flush()
			segs = append(segs, parsePhonemes(body)...)
		default:
			buf.WriteString(text[i : i+end+1])
		}
		i += end + 1
	}
	flush()

	return segs
}

func (p *Parser) apply(d Segment) {
	if d.Text != "phoneme" || len(d.Args) == 0 {
		return
	}
	switch d.Args[len(d.Args)-1] {
	case "on":
		p.Phonemes = true
	case "off":
		p.Phonemes = false
	}
}

func parseDirective(body string) (Segment, bool) {
	fields := strings.Fields(strings.ToLower(body))
	if len(fields) == 0 {
		return Segment{}, false
	}
	return Segment{Kind: KindDirective, Text: fields[0], Args: fields[1:]}, true
}

// parsePhonemes reads a sequence like "hx<50>eh<200,22> l ow".
func parsePhonemes(body string) []Segment {
	var (
		segs []Segment
		sym  strings.Builder
	)
	emit := func(d time.Duration, pitch int) {
		if sym.Len() == 0 {
			return
		}
		segs = append(segs, Segment{
			Kind:     KindPhoneme,
			Text:     sym.String(),
			Duration: d,
			Pitch:    pitch,
		})
		sym.Reset()
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '<':
			end := strings.IndexByte(body[i:], '>')
			if end < 0 {
				i = len(body)
				break
			}
			d, pitch := parseAnnotation(body[i+1 : i+end])
			emit(d, pitch)
			i += end
		case unicode.IsSpace(rune(c)):
			emit(0, 0)
		default:
			sym.WriteByte(c)
		}
	}
	emit(0, 0)

	return segs
}

// parseAnnotation reads "duration[,pitch]". Malformed numbers fall back to
// the engine default.
func parseAnnotation(s string) (time.Duration, int) {
	parts := strings.SplitN(s, ",", 2)

	var d time.Duration
	if ms, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil && ms > 0 {
		d = time.Duration(min(ms, int(MaxDuration/time.Millisecond))) * time.Millisecond
	}

	var pitch int
	if len(parts) == 2 {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil && n > 0 {
			pitch = min(max(n, MinPitch), MaxPitch)
		}
	}
	return d, pitch
}

// Words parses text and returns only its plain words, dropping directives
// and phoneme sequences. It is used by engines that cannot render phonemes.
func (p *Parser) Words(text string) string {
	var words []string
	for _, s := range p.Parse(text) {
		if s.Kind == KindText {
			words = append(words, s.Text)
		}
	}
	return strings.Join(words, " ")
}
