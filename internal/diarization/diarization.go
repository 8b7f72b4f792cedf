// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package diarization groups recognizer word timings into speaker-tagged
// segments with dedup and an incremental text-alignment fallback for
// results that arrive without word timings.
package diarization

import (
	"fmt"
	"strings"
)

// Word is one recognizer-reported word with optional speaker tag.
type Word struct {
	Word       string
	Start      float64
	End        float64
	SpeakerTag *int
}

// Segment is a speaker-tagged span of text. Mirrors events.Segment but
// lives in this package to keep diarization free of the wire-format
// dependency; the session layer converts between the two.
type Segment struct {
	Speaker *int
	Text    string
	Start   float64
	End     float64
}

func (s Segment) key() string {
	speaker := "nil"
	if s.Speaker != nil {
		speaker = fmt.Sprintf("%d", *s.Speaker)
	}
	return fmt.Sprintf("%s|%.2f|%.2f|%s", speaker, round2(s.Start), round2(s.End), s.Text)
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// Processor maintains per-session diarization state: the monotonic
// last-consumed word end, the last emitted transcript (for the text
// alignment fallback), and the set of already-emitted segment keys.
type Processor struct {
	lastWordEnd    float64
	lastTranscript string
	seenKeys       map[string]struct{}
}

// NewProcessor builds an empty diarization processor for one session.
func NewProcessor() *Processor {
	return &Processor{seenKeys: make(map[string]struct{})}
}

// ProcessFinal consumes one Final recognizer result (transcript + optional
// per-word timings) and returns the novel, deduplicated segments to emit.
// Words already consumed by an earlier result are filtered out first;
// interim corrections may repeat them.
func (p *Processor) ProcessFinal(transcript string, words []Word) []Segment {
	var segments []Segment

	if len(words) == 0 {
		diff := NewSuffix(p.lastTranscript, transcript)
		p.lastTranscript = transcript
		if diff == "" {
			return nil
		}
		seg := Segment{Speaker: nil, Text: diff, Start: 0, End: 0}
		return p.emitIfNovel(seg)
	}

	remaining := make([]Word, 0, len(words))
	for _, w := range words {
		if w.End <= p.lastWordEnd+0.001 {
			continue
		}
		remaining = append(remaining, w)
	}
	if len(remaining) == 0 {
		p.lastTranscript = transcript
		return nil
	}

	diffSuffix := NewSuffix(p.lastTranscript, transcript)
	groups := groupBySpeaker(remaining)
	segments = append(segments, AlignGroups(groups, diffSuffix)...)

	var out []Segment
	for _, seg := range segments {
		out = append(out, p.emitIfNovel(seg)...)
	}

	maxEnd := p.lastWordEnd
	for _, w := range remaining {
		if w.End > maxEnd {
			maxEnd = w.End
		}
	}
	p.lastWordEnd = maxEnd
	p.lastTranscript = transcript

	return out
}

func (p *Processor) emitIfNovel(seg Segment) []Segment {
	k := seg.key()
	if _, seen := p.seenKeys[k]; seen {
		return nil
	}
	p.seenKeys[k] = struct{}{}
	return []Segment{seg}
}

// wordGroup is a contiguous run of words sharing one speaker tag.
type wordGroup struct {
	speaker *int
	words   []Word
}

func groupBySpeaker(words []Word) []wordGroup {
	var groups []wordGroup
	for _, w := range words {
		if len(groups) == 0 || !sameSpeaker(groups[len(groups)-1].speaker, w.SpeakerTag) {
			groups = append(groups, wordGroup{speaker: w.SpeakerTag})
		}
		groups[len(groups)-1].words = append(groups[len(groups)-1].words, w)
	}
	return groups
}

func sameSpeaker(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NewSuffix computes the "new" suffix of curr relative to prev: the part
// of curr that extends beyond their longest common prefix (compared rune
// by rune), with leading spaces trimmed. If the two share no common
// prefix, the whole of curr is returned.
func NewSuffix(prev, curr string) string {
	p, c := []rune(prev), []rune(curr)
	prefixLen := 0
	max := len(p)
	if len(c) < max {
		max = len(c)
	}
	for prefixLen < max && p[prefixLen] == c[prefixLen] {
		prefixLen++
	}
	return strings.TrimLeft(string(c[prefixLen:]), " ")
}

// AlignGroups distributes the characters of suffix across word groups by
// greedy proportional character allocation (proportional to each group's
// word count), preserving intra-word punctuation. Kept a pure function so
// the heuristic can be tested in isolation.
func AlignGroups(groups []wordGroup, suffix string) []Segment {
	if len(groups) == 0 {
		return nil
	}
	if len(groups) == 1 {
		g := groups[0]
		return []Segment{segmentFromGroup(g, textOrJoin(suffix, g.words))}
	}

	runes := []rune(suffix)
	totalWords := 0
	for _, g := range groups {
		totalWords += len(g.words)
	}
	if totalWords == 0 {
		totalWords = len(groups)
	}

	segs := make([]Segment, 0, len(groups))
	cursor := 0
	for i, g := range groups {
		var share int
		if i == len(groups)-1 {
			share = len(runes) - cursor
		} else {
			share = len(runes) * len(g.words) / totalWords
		}
		if share < 0 {
			share = 0
		}
		end := cursor + share
		if end > len(runes) {
			end = len(runes)
		}
		text := strings.TrimSpace(string(runes[cursor:end]))
		if text == "" {
			text = textOrJoin("", g.words)
		}
		cursor = end
		segs = append(segs, segmentFromGroup(g, text))
	}
	return segs
}

func textOrJoin(preferred string, words []Word) string {
	if preferred != "" {
		return preferred
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Word
	}
	return strings.Join(parts, " ")
}

func segmentFromGroup(g wordGroup, text string) Segment {
	if len(g.words) == 0 {
		return Segment{Speaker: g.speaker, Text: text}
	}
	return Segment{
		Speaker: g.speaker,
		Text:    text,
		Start:   g.words[0].Start,
		End:     g.words[len(g.words)-1].End,
	}
}
