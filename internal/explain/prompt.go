// Package explain generates patient-facing natural-language explanations of
// processed metric records via a Bedrock proxy Lambda, with a deterministic
// fallback when the model is throttled or unavailable.
package explain

import (
	"fmt"
	"strings"

	"vitalwatch/internal/types"
)

// systemPrompt frames the model as a cautious, supportive health coach.
// The strict rules exist because the output is shown to a person with
// chronic health conditions: no diagnoses, no treatment advice, soft
// probabilistic language only, and a mandatory disclaimer.
const systemPrompt = `You are an AI assistant that explains wearable and lifestyle health metrics for a person with chronic health conditions.

Your job is to:
- EXPLAIN what the metrics might generally indicate in simple, friendly language.
- FOCUS on trends and patterns (better / worse / stable), not exact clinical thresholds.
- BE SUPPORTIVE, non-judgemental, and easy to understand.
- ALWAYS include a clear disclaimer that you are not a doctor and this is not medical advice.
- ENCOURAGE the person to speak with their healthcare professional for any decisions.

STRICT RULES (VERY IMPORTANT):
1. DO NOT diagnose any disease or condition.
2. DO NOT prescribe, adjust, or recommend specific medications, dosages, supplements, or treatments.
3. DO NOT suggest starting, stopping, or changing any medication or treatment plan.
4. DO NOT give emergency instructions. If something sounds worrying, gently say that they should contact a doctor or emergency services if they feel unwell.
5. DO NOT make absolute claims. Use soft, probabilistic language like "can sometimes be related to", "might suggest", "could be associated with".
6. DO NOT reference internal system details like storage, models, or any technical infrastructure.

TONE:
- Warm, calm, and supportive (like a health coach, not a strict clinician).
- Avoid fear-based language.
- Keep the explanation focused on THIS person's metrics and day.

FORMAT:
- Start with a brief one-paragraph summary of how their day looks overall.
- Then add 3-6 short bullet points explaining key observations (sleep, HRV, resting heart rate, steps, recovery).
- End with a short disclaimer that this is general information, not medical advice.`

// Disclaimer is appended to every explanation that does not already carry
// one, and closes the fallback message.
const Disclaimer = "This explanation is for general information only and is not a substitute " +
	"for professional medical advice, diagnosis, or treatment. " +
	"Always talk to your doctor or healthcare team about any questions or concerns."

// disclaimerMarker is the phrase checked (case-insensitively) to decide
// whether a model response already includes a disclaimer.
const disclaimerMarker = "not a substitute for professional medical advice"

// formatMetric renders an optional metric value for the prompt.
func formatMetric(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%g", *v)
}

// BuildUserPrompt renders the day's metrics and anomaly findings into the
// user portion of the LLM prompt. Anomalous days get an expanded request
// for implications and lifestyle suggestions; quiet days ask for a brief
// summary only.
func BuildUserPrompt(rec *types.ProcessedMetricRecord) string {
	metricsBlock := strings.Join([]string{
		"Health Metrics:",
		"- HRV: " + formatMetric(rec.HRV),
		"- Resting HR: " + formatMetric(rec.RestingHR) + " bpm",
		"- Sleep Score: " + formatMetric(rec.SleepScore),
		"- Steps: " + formatMetric(rec.Steps),
	}, "\n")

	if !rec.IsAnomalous {
		return fmt.Sprintf(`Date: %s

%s

No anomalies detected. Please provide a brief summary of these metrics and what they indicate about overall health.`,
			rec.Date, metricsBlock)
	}

	flags := rec.Active()
	flagsStr := "No specific flags"
	if len(flags) > 0 {
		flagsStr = strings.Join(flags, ", ")
	}

	return fmt.Sprintf(`Date: %s

%s

Anomaly Flags: %s
Severity: %d

Please provide:
1. A summary of what's going on with these health metrics
2. Potential implications of these patterns
3. 3-4 general lifestyle adjustment suggestions (not medical treatments)
4. A reminder that this is not medical advice and to consult a healthcare professional`,
		rec.Date, metricsBlock, flagsStr, rec.Severity)
}

// FullPrompt concatenates the system framing and the per-day user prompt
// into the single text payload the proxy Lambda expects.
func FullPrompt(rec *types.ProcessedMetricRecord) string {
	return systemPrompt + "\n\n" + BuildUserPrompt(rec)
}

// ensureDisclaimer appends the standard disclaimer unless the text already
// carries one.
func ensureDisclaimer(text string) string {
	if strings.Contains(strings.ToLower(text), disclaimerMarker) {
		return text
	}
	return strings.TrimRight(text, " \n") + "\n\n" + Disclaimer
}
