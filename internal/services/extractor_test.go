package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huangang/scamarena/backend/internal/models"
)

func TestExtractDetectorReport(t *testing.T) {
	report := ExtractDetectorReport(sampleAnalysis)

	require.NotNil(t, report.RiskScore)
	require.NotNil(t, report.Confidence)
	assert.InDelta(t, 0.92, *report.RiskScore, 1e-9)
	assert.InDelta(t, 0.88, *report.Confidence, 1e-9)
	assert.Equal(t, "SCAM", report.Verdict)
	assert.Equal(t, "Credential phishing", report.ScamCategory)
	assert.Equal(t, "MEDIUM", report.Sophistication)
	assert.Equal(t, "HIGH", report.ThreatLevel)
}

func TestExtractDetectorReport_Formats(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		risk       *float64
		confidence *float64
		verdict    string
	}{
		{
			name:       "plain values",
			text:       "OVERALL SCAM SCORE: 75\nCONFIDENCE LEVEL: 60%\nVERDICT: LIKELY SCAM",
			risk:       floatPtr(0.75),
			confidence: floatPtr(0.60),
			verdict:    "LIKELY SCAM",
		},
		{
			name:       "markdown bold",
			text:       "**OVERALL SCAM SCORE:** 10\n**CONFIDENCE LEVEL:** [95]%\n**VERDICT:** LEGITIMATE",
			risk:       floatPtr(0.10),
			confidence: floatPtr(0.95),
			verdict:    "LEGITIMATE",
		},
		{
			name:       "lowercase and crlf",
			text:       "overall scam score: [40]\r\nverdict: [SUSPICIOUS]\r\n",
			risk:       floatPtr(0.40),
			confidence: nil,
			verdict:    "SUSPICIOUS",
		},
		{
			name:       "out of range is clamped",
			text:       "OVERALL SCAM SCORE: 250\nCONFIDENCE LEVEL: 100%",
			risk:       floatPtr(1),
			confidence: floatPtr(1),
		},
		{
			name: "missing headers",
			text: "I could not analyse this email.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := ExtractDetectorReport(tt.text)
			if tt.risk == nil {
				assert.Nil(t, report.RiskScore)
			} else {
				require.NotNil(t, report.RiskScore)
				assert.InDelta(t, *tt.risk, *report.RiskScore, 1e-9)
			}
			if tt.confidence == nil {
				assert.Nil(t, report.Confidence)
			} else {
				require.NotNil(t, report.Confidence)
				assert.InDelta(t, *tt.confidence, *report.Confidence, 1e-9)
			}
			assert.Equal(t, tt.verdict, report.Verdict)
		})
	}
}

func TestExtractSubject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		subject string
		body    string
	}{
		{
			name:    "subject then body",
			text:    sampleEmail,
			subject: "Urgent Action Required",
			body:    "Dear customer,\nyour account has been suspended. Verify at http://secure-bank.example within 24 hours.",
		},
		{
			name:    "bold subject after preamble",
			text:    "Here is the email:\n**Subject:** Your parcel is waiting\nHello,\nPay the fee.",
			subject: "Your parcel is waiting",
			body:    "Hello,\nPay the fee.",
		},
		{
			name:    "no subject line",
			text:    "  Hello,\nplease wire the funds.  ",
			subject: "",
			body:    "Hello,\nplease wire the funds.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := ExtractSubject(tt.text)
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.body, body)
		})
	}
}

func TestNormalizeVerdict(t *testing.T) {
	tests := []struct {
		metadata string
		raw      string
		expected string
	}{
		{"SCAM", "", models.VerdictPhishing},
		{"likely scam", "", models.VerdictPhishing},
		{"PHISHING", "", models.VerdictPhishing},
		{"Suspicious", "", models.VerdictPhishing},
		{"fraud attempt", "", models.VerdictPhishing},
		{"LEGITIMATE", "", models.VerdictLegitimate},
		{"LIKELY LEGITIMATE", "", models.VerdictLegitimate},
		{"", "The email is a SCAM with high confidence", models.VerdictPhishing},
		{"UNSURE", "looks legitimate", models.VerdictLegitimate},
		{"LEGITIMATE", "SCAM", models.VerdictLegitimate},
		{"", "", models.VerdictLegitimate},
		{"unknown", "no idea", models.VerdictLegitimate},
	}

	for _, tt := range tests {
		if got := NormalizeVerdict(tt.metadata, tt.raw); got != tt.expected {
			t.Errorf("NormalizeVerdict(%q, %q) = %q, expected %q", tt.metadata, tt.raw, got, tt.expected)
		}
	}
}

func TestDecodeResult(t *testing.T) {
	t.Run("strict json", func(t *testing.T) {
		r := DecodeResult(`{"generator_agent_status": 1, "detector_agent_status": 0, "generated_subject": "Hi", "detection_risk_score": 0.5}`)
		assert.False(t, r.IsFallback())
		assert.Equal(t, 1, r.GeneratorAgentStatus)
		assert.Equal(t, 0, r.DetectorAgentStatus)
		assert.Equal(t, "Hi", r.GeneratedSubject)
		require.NotNil(t, r.DetectionRiskScore)
		assert.InDelta(t, 0.5, *r.DetectionRiskScore, 1e-9)
	})

	t.Run("fenced json", func(t *testing.T) {
		r := DecodeResult("```json\n{\"generated_subject\": \"Prize\"}\n```")
		assert.False(t, r.IsFallback())
		assert.Equal(t, "Prize", r.GeneratedSubject)
	})

	t.Run("mistyped field keeps the rest", func(t *testing.T) {
		r := DecodeResult(`{"generator_agent_status": "yes", "generated_subject": "Prize"}`)
		assert.False(t, r.IsFallback())
		assert.Equal(t, "Prize", r.GeneratedSubject)
	})

	t.Run("prose falls back", func(t *testing.T) {
		text := "Sure, here's the summary: the detector caught it."
		var r *CompetitionResult
		assert.NotPanics(t, func() { r = DecodeResult(text) })
		assert.True(t, r.IsFallback())
		assert.Equal(t, text, r.RawResponse)
		assert.NotEmpty(t, r.ParseError)
	})

	t.Run("array falls back", func(t *testing.T) {
		r := DecodeResult(`[1, 2, 3]`)
		assert.True(t, r.IsFallback())
	})

	t.Run("empty falls back", func(t *testing.T) {
		r := DecodeResult("")
		assert.True(t, r.IsFallback())
	})
}

func TestClamp01_Idempotent(t *testing.T) {
	for _, v := range []float64{-3, -0.01, 0, 0.42, 1, 1.5, 92} {
		once := models.Clamp01(v)
		assert.GreaterOrEqual(t, once, 0.0)
		assert.LessOrEqual(t, once, 1.0)
		assert.Equal(t, once, models.Clamp01(once))
	}
}
