// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package qa implements the incremental question/answer extractor:
// sentence splitting, Korean-aware interrogative detection,
// forward-window answer matching, and confidence scoring.
package qa

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/realtalk/sttgateway/internal/diarization"
)

// sentenceBoundary splits on a sentence-final punctuation mark followed by
// whitespace, keeping the punctuation with the preceding sentence
// (lookbehind emulated via a two-step split since Go regexp lacks
// lookbehind).
var sentenceBoundary = regexp.MustCompile(`([.?!])\s+`)

// questionPattern matches a trailing "?" or a Korean interrogative
// sentence-final suffix, optionally followed by "?", case-insensitively.
var questionPattern = regexp.MustCompile(`(?i)(\?|(요|까|나요|니|냐|나|죠|지요|습니까|습니까요|아니야)\??)$`)

// Sentence is one prorated slice of a Segment's time range.
type Sentence struct {
	Text    string
	Speaker *int
	Start   float64
	End     float64
}

// Pair is one emitted question/answer match.
type Pair struct {
	QText      string
	QSpeaker   *int
	QTime      float64
	AText      string
	ASpeaker   *int
	ATime      float64
	Confidence float64
}

func (p Pair) key() string {
	return fmt.Sprintf("%s|%s|%.3f", p.QText, p.AText, p.ATime)
}

// Extractor holds the ordered sentence list built from every segment seen
// in a session, plus the set of already-emitted pair keys. AppendSegments
// reprocesses the full sentence list on every call (sentence boundaries
// may shift), but emission is dedup-guarded.
type Extractor struct {
	TimeWindowSec  float64
	SentenceWindow int

	sentences []Sentence
	emitted   map[string]struct{}
}

// NewExtractor builds an Extractor using the configured windows; zero or
// negative values fall back to 15s and 3 sentences.
func NewExtractor(timeWindowSec float64, sentenceWindow int) *Extractor {
	if timeWindowSec <= 0 {
		timeWindowSec = 15
	}
	if sentenceWindow <= 0 {
		sentenceWindow = 3
	}
	return &Extractor{
		TimeWindowSec:  timeWindowSec,
		SentenceWindow: sentenceWindow,
		emitted:        make(map[string]struct{}),
	}
}

// AppendSegments converts each segment to sentences (prorating its time
// range across them) and returns any newly-confirmed Q/A pairs.
func (e *Extractor) AppendSegments(segments []diarization.Segment) []Pair {
	for _, seg := range segments {
		e.sentences = append(e.sentences, segmentToSentences(seg)...)
	}
	return e.extract()
}

func segmentToSentences(seg diarization.Segment) []Sentence {
	parts := splitSentences(seg.Text)
	if len(parts) == 0 {
		return nil
	}

	duration := seg.End - seg.Start
	if duration < 0 {
		duration = 0
	}
	share := duration / float64(len(parts))

	sentences := make([]Sentence, 0, len(parts))
	for i, part := range parts {
		start := seg.Start + share*float64(i)
		end := start + share
		if i == len(parts)-1 {
			end = seg.End
		}
		sentences = append(sentences, Sentence{
			Text:    part,
			Speaker: seg.Speaker,
			Start:   start,
			End:     end,
		})
	}
	return sentences
}

func splitSentences(text string) []string {
	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	raw := strings.Split(marked, "\x00")

	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isQuestion(text string) bool {
	return questionPattern.MatchString(strings.TrimSpace(text))
}

func (e *Extractor) extract() []Pair {
	var fresh []Pair

	for i, q := range e.sentences {
		if !isQuestion(q.Text) {
			continue
		}

		answer, found := e.findAnswer(i, q)
		if !found {
			continue
		}

		confidence := confidenceScore(q, answer, e.TimeWindowSec)
		pair := Pair{
			QText:      q.Text,
			QSpeaker:   q.Speaker,
			QTime:      q.End,
			AText:      answer.Text,
			ASpeaker:   answer.Speaker,
			ATime:      answer.Start,
			Confidence: confidence,
		}

		k := pair.key()
		if _, seen := e.emitted[k]; seen {
			continue
		}
		e.emitted[k] = struct{}{}
		fresh = append(fresh, pair)
	}

	return fresh
}

// findAnswer scans forward up to SentenceWindow sentences and
// TimeWindowSec seconds past q's end, preferring the first
// differing-speaker sentence; falling back to the first non-empty
// same-speaker sentence while continuing to look for a differing speaker.
func (e *Extractor) findAnswer(qIndex int, q Sentence) (Sentence, bool) {
	var fallback Sentence
	haveFallback := false

	limit := qIndex + e.SentenceWindow
	if limit >= len(e.sentences) {
		limit = len(e.sentences) - 1
	}

	for j := qIndex + 1; j <= limit; j++ {
		cand := e.sentences[j]
		if cand.Start-q.End > e.TimeWindowSec {
			break
		}
		if strings.TrimSpace(cand.Text) == "" {
			continue
		}
		if !sameSpeaker(cand.Speaker, q.Speaker) {
			return cand, true
		}
		if !haveFallback {
			fallback = cand
			haveFallback = true
		}
	}

	if haveFallback {
		return fallback, true
	}
	return Sentence{}, false
}

func sameSpeaker(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// confidenceScore rates a match: base 0.5, +0.25 for a differing
// non-null answer speaker, up to +0.2 for answer proximity, +0.05 for a
// sentence-final period. Clamped to 0.99.
func confidenceScore(q, a Sentence, window float64) float64 {
	confidence := 0.5

	differs := a.Speaker != nil && !sameSpeaker(a.Speaker, q.Speaker)
	if differs {
		confidence += 0.25
	}

	delta := a.Start - q.End
	if delta < 0 {
		delta = 0
	}
	if window > 0 {
		confidence += 0.2 * (1 - delta/window)
	}

	if strings.HasSuffix(strings.TrimSpace(a.Text), ".") {
		confidence += 0.05
	}

	if confidence > 0.99 {
		confidence = 0.99
	}
	return confidence
}
