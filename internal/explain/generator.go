package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"

	"vitalwatch/internal/types"
)

// FallbackMessage is returned when the model cannot be reached or is
// throttled. The raw metrics are processed and saved regardless, so the
// message says exactly that.
const FallbackMessage = "We couldn't generate an AI explanation right now due to model limits. " +
	"Your raw metrics have still been processed and saved."

// fallbackModel tags fallback responses with the model that would have
// answered.
const fallbackModel = "bedrock-claude-3-5-sonnet"

// throttleKeywords are matched case-insensitively against proxy error text
// to classify a failure as throttling (fallback) rather than a defect.
var throttleKeywords = []string{
	"throttlingexception",
	"too many requests",
	"timeout",
	"timed out",
	"rate exceeded",
}

// TokenUsage mirrors the proxy's usage accounting.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerationMeta describes how an explanation was produced.
type GenerationMeta struct {
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
	// Error is non-empty when the fallback message was used instead of a
	// model response.
	Error string `json:"error,omitempty"`
}

// Fallback reports whether this generation used the fallback path.
func (m GenerationMeta) Fallback() bool { return m.Error != "" }

// LambdaInvoker is the subset of the Lambda SDK client used by Generator.
type LambdaInvoker interface {
	Invoke(ctx context.Context, params *awslambda.InvokeInput, optFns ...func(*awslambda.Options)) (*awslambda.InvokeOutput, error)
}

// Generator produces explanations by invoking the Bedrock proxy Lambda with
// the full prompt. Model access lives behind the proxy so this package
// never touches model credentials.
type Generator struct {
	Invoker      LambdaInvoker
	FunctionName string
	Log          *slog.Logger
}

// proxyRequest is the payload sent to the proxy Lambda.
type proxyRequest struct {
	Text string `json:"text"`
}

// proxyResponse is the Lambda-proxy envelope returned by the proxy.
type proxyResponse struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body"`
}

// proxyBody is the inner body of a proxy response. Body may arrive either
// as an object or as a JSON string containing one.
type proxyBody struct {
	Success     *bool       `json:"success"`
	Explanation string      `json:"explanation"`
	Error       string      `json:"error"`
	Model       string      `json:"model"`
	Usage       *TokenUsage `json:"usage"`
}

func matchesThrottling(message string) bool {
	lowered := strings.ToLower(message)
	for _, keyword := range throttleKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return false
}

func (g *Generator) log() *slog.Logger {
	if g.Log != nil {
		return g.Log
	}
	return slog.Default()
}

func (g *Generator) fallback(ctx context.Context, reason string) (string, GenerationMeta) {
	g.log().WarnContext(ctx, "explanation fallback triggered", "reason", reason)
	return FallbackMessage, GenerationMeta{
		Model: fallbackModel,
		Error: reason,
	}
}

// Generate produces an explanation for a processed record. Runtime trouble
// on the model side (invoke failures, throttling, non-200 proxy statuses)
// degrades to the fallback message; a malformed proxy response shape is a
// configuration defect and returns an error instead.
func (g *Generator) Generate(ctx context.Context, rec *types.ProcessedMetricRecord) (string, GenerationMeta, error) {
	if g.FunctionName == "" {
		return "", GenerationMeta{}, types.NewAppError(types.ErrCodeInternalUnexpected,
			"explanation proxy function name is not configured", nil)
	}

	payload, err := json.Marshal(proxyRequest{Text: FullPrompt(rec)})
	if err != nil {
		return "", GenerationMeta{}, types.NewAppError(types.ErrCodeInternalSerialization,
			"failed to encode proxy request", err)
	}

	out, err := g.Invoker.Invoke(ctx, &awslambda.InvokeInput{
		FunctionName: aws.String(g.FunctionName),
		Payload:      payload,
	})
	if err != nil {
		text, meta := g.fallback(ctx, err.Error())
		return text, meta, nil
	}

	var resp proxyResponse
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return "", GenerationMeta{}, types.NewAppError(types.ErrCodeUpstreamLLM,
			"invalid response envelope from explanation proxy", err)
	}
	if resp.StatusCode != 200 {
		text, meta := g.fallback(ctx, fmt.Sprintf("proxy returned status %d", resp.StatusCode))
		return text, meta, nil
	}

	body, err := decodeProxyBody(resp.Body)
	if err != nil {
		return "", GenerationMeta{}, types.NewAppError(types.ErrCodeUpstreamLLM,
			"invalid response body from explanation proxy", err)
	}

	if (body.Success != nil && !*body.Success) || matchesThrottling(body.Error) {
		reason := body.Error
		if reason == "" {
			reason = "explanation proxy reported failure"
		}
		text, meta := g.fallback(ctx, reason)
		return text, meta, nil
	}

	explanation := strings.TrimSpace(body.Explanation)
	if explanation == "" {
		explanation = "I'm not able to interpret your health metrics right now. " +
			"Please check back later, and reach out to your doctor or healthcare team " +
			"if you have any concerns about your health.\n\n" + Disclaimer
	} else {
		explanation = ensureDisclaimer(explanation)
	}

	meta := GenerationMeta{Model: body.Model}
	if meta.Model == "" {
		meta.Model = fallbackModel
	}
	if body.Usage != nil {
		meta.Usage = *body.Usage
	}

	return explanation, meta, nil
}

// decodeProxyBody handles both body shapes the proxy emits: an inline JSON
// object, or a JSON string wrapping one.
func decodeProxyBody(raw json.RawMessage) (proxyBody, error) {
	var body proxyBody
	if err := json.Unmarshal(raw, &body); err == nil {
		return body, nil
	}
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return proxyBody{}, fmt.Errorf("body is neither object nor string: %w", err)
	}
	if err := json.Unmarshal([]byte(wrapped), &body); err != nil {
		return proxyBody{}, fmt.Errorf("string body is not a JSON object: %w", err)
	}
	return body, nil
}
