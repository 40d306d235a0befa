package markup

import (
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		phonemes bool
		input    string
		want     []Segment
	}{
		{
			name:  "plain text collapses whitespace",
			input: "  hello   there\n world ",
			want:  []Segment{{Kind: KindText, Text: "hello there world"}},
		},
		{
			name:  "empty",
			input: "   ",
			want:  nil,
		},
		{
			name:  "directive splits text",
			input: "fast [:Rate 300] now",
			want: []Segment{
				{Kind: KindText, Text: "fast"},
				{Kind: KindDirective, Text: "rate", Args: []string{"300"}},
				{Kind: KindText, Text: "now"},
			},
		},
		{
			name:  "brackets are literal without phoneme mode",
			input: "say [hx eh]",
			want:  []Segment{{Kind: KindText, Text: "say [hx eh]"}},
		},
		{
			name:     "phoneme sequence",
			phonemes: true,
			input:    "[hx<50>eh<200,22> l ow]",
			want: []Segment{
				{Kind: KindPhoneme, Text: "hx", Duration: 50 * time.Millisecond},
				{Kind: KindPhoneme, Text: "eh", Duration: 200 * time.Millisecond, Pitch: 22},
				{Kind: KindPhoneme, Text: "l"},
				{Kind: KindPhoneme, Text: "ow"},
			},
		},
		{
			name:     "annotation clamping",
			phonemes: true,
			input:    "[aa<99999,99>iy<10,0>]",
			want: []Segment{
				{Kind: KindPhoneme, Text: "aa", Duration: MaxDuration, Pitch: MaxPitch},
				{Kind: KindPhoneme, Text: "iy", Duration: 10 * time.Millisecond},
			},
		},
		{
			name:     "malformed annotation falls back to defaults",
			phonemes: true,
			input:    "[aa<x,y>]",
			want:     []Segment{{Kind: KindPhoneme, Text: "aa"}},
		},
		{
			name:  "unterminated bracket is literal",
			input: "hello [:rate 200",
			want:  []Segment{{Kind: KindText, Text: "hello [:rate 200"}},
		},
		{
			name:  "empty directive is dropped",
			input: "a [: ] b",
			want: []Segment{
				{Kind: KindText, Text: "a"},
				{Kind: KindText, Text: "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parser{Phonemes: tt.phonemes}
			got := p.Parse(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q)\n got %+v\nwant %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPhonemeDirectivePersists(t *testing.T) {
	var p Parser

	p.Parse(PhonemeOnDirective)
	if !p.Phonemes {
		t.Fatal("phoneme mode not enabled by directive")
	}

	segs := p.Parse("[ah]")
	if len(segs) != 1 || segs[0].Kind != KindPhoneme {
		t.Errorf("Parse() after directive = %+v, want one phoneme", segs)
	}

	p.Parse("[:phoneme off]")
	if p.Phonemes {
		t.Error("phoneme mode still enabled after off directive")
	}
}

func TestParseNormalizesNFC(t *testing.T) {
	var p Parser
	segs := p.Parse("cafe\u0301")
	if len(segs) != 1 || segs[0].Text != "caf\u00e9" {
		t.Errorf("Parse() = %+v, want composed text", segs)
	}
}

func TestWords(t *testing.T) {
	p := Parser{Phonemes: true}
	got := p.Words("hello [:rate 200] [hx eh] world")
	if got != "hello world" {
		t.Errorf("Words() = %q, want %q", got, "hello world")
	}
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindText, "text"},
		{KindDirective, "directive"},
		{KindPhoneme, "phoneme"},
		{Kind(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
