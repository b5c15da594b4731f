package attribution

import (
	"regexp"
	"strings"

	"sales-insights-go/internal/config"
	"sales-insights-go/internal/types"
)

// Salespeople open calls by introducing themselves; customers rarely do.
// Patterns cover the greeting styles seen in recorded sales calls, in
// English and Portuguese. Capture group 1, when present, is the name.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthis is ([\p{L}]+)\b`),
	regexp.MustCompile(`(?i)\bmy name is ([\p{L}]+)\b`),
	regexp.MustCompile(`(?i)\bi'?m ([\p{L}]+),? (?:from|with|calling)\b`),
	regexp.MustCompile(`(?i)\baqui é (?:o |a )?([\p{L}]+)\b`),
	regexp.MustCompile(`(?i)\bmeu nome é ([\p{L}]+)\b`),
	regexp.MustCompile(`(?i)\beu sou (?:o |a )?([\p{L}]+)\b`),
	regexp.MustCompile(`(?i)\bfala ([\p{L}]+) aqui\b`),
}

var introPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bcalling (?:from|on behalf of)\b`),
	regexp.MustCompile(`(?i)\b(?:from|da|do) (?:the )?(?:sales|commercial)? ?(?:team|equipe)\b`),
	regexp.MustCompile(`(?i)\bligando (?:da|do|em nome)\b`),
	regexp.MustCompile(`(?i)\bthank you for (?:taking|your) (?:my call|time)\b`),
	regexp.MustCompile(`(?i)\bobrigad[oa] por atender\b`),
}

type evidence struct {
	score      int
	name       string
	spokeFirst bool
}

// Attribute identifies which speaker in the transcript is the
// salesperson. Ambiguity is a normal outcome: with no greeting evidence,
// or with two speakers equally likely, it returns UnknownVendor rather
// than guessing.
func Attribute(t types.Transcript, cfg config.Attribution) types.Attribution {
	bySpeaker := map[string]*evidence{}
	order := []string{}

	for i, u := range t.Utterances {
		if i >= cfg.WindowUtterances || u.StartMS > cfg.WindowMS {
			break
		}
		ev, ok := bySpeaker[u.Speaker]
		if !ok {
			ev = &evidence{spokeFirst: len(order) == 0}
			bySpeaker[u.Speaker] = ev
			order = append(order, u.Speaker)
		}
		for _, re := range namePatterns {
			m := re.FindStringSubmatch(u.Text)
			if m == nil {
				continue
			}
			name := normalizeName(m[1])
			if name == "" {
				continue
			}
			ev.score += 2
			if ev.name == "" {
				ev.name = name
			}
		}
		// At most one intro point per turn: stacking phrase hits would
		// let verbose intro phrasing outvote another speaker's name match.
		for _, re := range introPatterns {
			if re.MatchString(u.Text) {
				ev.score++
				break
			}
		}
	}

	best := ""
	bestScore, runnerScore := 0, 0
	for _, sp := range order {
		ev := bySpeaker[sp]
		score := ev.score
		// Speaking first only breaks ties between speakers that already
		// carry greeting evidence; on its own it attributes nothing.
		if score > 0 && ev.spokeFirst {
			score++
		}
		switch {
		case score > bestScore:
			runnerScore = bestScore
			best, bestScore = sp, score
		case score > runnerScore:
			runnerScore = score
		}
	}

	if bestScore == 0 || bestScore == runnerScore {
		return types.UnknownVendor()
	}

	ev := bySpeaker[best]
	if ev.name != "" {
		return types.AttributedTo(ev.name)
	}
	return types.AttributedTo(best)
}

// Words the name patterns can capture that are never actually names.
var nameStopwords = map[string]bool{
	"calling": true, "speaking": true, "here": true, "from": true,
	"with": true, "sorry": true, "just": true,
}

func normalizeName(raw string) string {
	name := []rune(strings.TrimSpace(raw))
	if len(name) < 2 || nameStopwords[strings.ToLower(string(name))] {
		return ""
	}
	return strings.ToUpper(string(name[0])) + strings.ToLower(string(name[1:]))
}
