package services

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/huangang/scamarena/backend/internal/models"
)

// Header markers are matched at line start, case-insensitively, tolerating
// markdown bold and square brackets around the value.
var (
	scamScorePattern      = percentHeader(`OVERALL\s+SCAM\s+SCORE`)
	confidencePattern     = percentHeader(`CONFIDENCE\s+LEVEL`)
	verdictPattern        = textHeader(`VERDICT`)
	scamCategoryPattern   = textHeader(`SCAM\s+CATEGORY`)
	sophisticationPattern = textHeader(`SOPHISTICATION\s+LEVEL`)
	threatLevelPattern    = textHeader(`THREAT\s+LEVEL`)
	subjectPattern        = regexp.MustCompile(`(?im)^[ \t>*#]*Subject[ \t]*\**[ \t]*:[ \t]*\**[ \t]*(.*?)[ \t*]*\r?$`)
	codeFencePattern      = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n(.*?)\n?```$")
)

func percentHeader(marker string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t>*#-]*` + marker + `[ \t]*\**[ \t]*:[ \t]*\**[ \t]*\[?[ \t]*(\d+(?:\.\d+)?)[ \t]*%?`)
}

func textHeader(marker string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)^[ \t>*#-]*` + marker + `[ \t]*\**[ \t]*:[ \t]*\**[ \t]*\[?[ \t]*([^\]\r\n*]+?)[ \t]*\]?[ \t*]*\r?$`)
}

// DetectorReport holds the fields lexed from a detector's free-text analysis.
// Missing headers leave their field nil or empty.
type DetectorReport struct {
	RiskScore      *float64
	Confidence     *float64
	Verdict        string
	ScamCategory   string
	Sophistication string
	ThreatLevel    string
}

// ExtractDetectorReport reads the evaluation block a detector appends to its analysis.
func ExtractDetectorReport(text string) DetectorReport {
	return DetectorReport{
		RiskScore:      extractPercent(scamScorePattern, text),
		Confidence:     extractPercent(confidencePattern, text),
		Verdict:        extractText(verdictPattern, text),
		ScamCategory:   extractText(scamCategoryPattern, text),
		Sophistication: extractText(sophisticationPattern, text),
		ThreatLevel:    extractText(threatLevelPattern, text),
	}
}

// extractPercent returns the header's value as a fraction clamped to [0, 1].
func extractPercent(re *regexp.Regexp, text string) *float64 {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	v = models.Clamp01(v / 100)
	return &v
}

func extractText(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ExtractSubject splits an email into its Subject line value and the body
// that follows it. Without a subject line the whole text is the body.
func ExtractSubject(text string) (subject, body string) {
	loc := subjectPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", strings.TrimSpace(text)
	}
	subject = strings.TrimSpace(text[loc[2]:loc[3]])
	body = strings.TrimSpace(text[loc[1]:])
	return subject, body
}

var phishingMarkers = []string{"SCAM", "PHISHING", "SUSPICIOUS", "FRAUD"}

func classifyVerdict(s string) string {
	upper := strings.ToUpper(s)
	for _, marker := range phishingMarkers {
		if strings.Contains(upper, marker) {
			return models.VerdictPhishing
		}
	}
	if strings.Contains(upper, "LEGITIMATE") {
		return models.VerdictLegitimate
	}
	return ""
}

// NormalizeVerdict maps the detector's verdict wording onto phishing or
// legitimate. The structured metadata verdict wins; the free-text verdict is
// consulted only when the metadata says neither. Unknown wording is legitimate.
func NormalizeVerdict(metadataVerdict, rawVerdict string) string {
	if v := classifyVerdict(metadataVerdict); v != "" {
		return v
	}
	if v := classifyVerdict(rawVerdict); v != "" {
		return v
	}
	return models.VerdictLegitimate
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// DecodeResult parses an orchestrator's final message as a JSON object. It
// never fails: unparseable text yields a fallback result carrying the raw
// text and the parse error, which callers must route to manual review.
func DecodeResult(text string) *CompetitionResult {
	cleaned := stripCodeFence(text)

	var probe interface{}
	if err := json.Unmarshal([]byte(cleaned), &probe); err != nil {
		return fallbackResult(text, err)
	}
	if _, ok := probe.(map[string]interface{}); !ok {
		return fallbackResult(text, errors.New("expected a JSON object"))
	}

	result := &CompetitionResult{}
	if err := json.Unmarshal([]byte(cleaned), result); err != nil {
		// Well-formed JSON with a mistyped field still yields every other field.
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return fallbackResult(text, err)
		}
	}
	return result
}

func fallbackResult(text string, err error) *CompetitionResult {
	return &CompetitionResult{
		RawResponse: text,
		ParseError:  err.Error(),
	}
}
