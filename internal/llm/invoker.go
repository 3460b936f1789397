package llm

import (
	"context"
	"math"
	"time"

	"github.com/huangang/scamarena/backend/internal/metrics"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

const (
	StatusFailed  = 0
	StatusSuccess = 1

	DefaultMaxRetries = 3
)

// Invocation is the two-outcome result of a retried call. Status is
// StatusSuccess or StatusFailed; Error is set only on failure.
type Invocation struct {
	Status        int         `json:"status"`
	InferenceTime float64     `json:"inference_time_seconds,omitempty"`
	LatencyMs     int64       `json:"latency_ms,omitempty"`
	APICost       float64     `json:"api_cost,omitempty"`
	TokenUsage    TokenUsage  `json:"token_usage"`
	Response      string      `json:"response,omitempty"`
	Raw           interface{} `json:"-"`
	Error         string      `json:"error,omitempty"`
	Attempts      int         `json:"attempts"`
}

func (i *Invocation) OK() bool {
	return i != nil && i.Status == StatusSuccess
}

// Invoker retries calls with exponential backoff, prices the result and
// records it when a round is attached.
type Invoker struct {
	MaxRetries int
	Pricer     Pricer
	Recorder   Recorder

	sleep func(ctx context.Context, d time.Duration) error
}

func NewInvoker(maxRetries int, pricer Pricer, recorder Recorder) *Invoker {
	return &Invoker{
		MaxRetries: maxRetries,
		Pricer:     pricer,
		Recorder:   recorder,
		sleep:      sleepContext,
	}
}

func (inv *Invoker) attempts() int {
	if inv.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return inv.MaxRetries
}

func (inv *Invoker) wait(ctx context.Context, d time.Duration) error {
	if inv.sleep == nil {
		return sleepContext(ctx, d)
	}
	return inv.sleep(ctx, d)
}

// Backoff returns the delay before retrying after the given zero-based attempt.
func Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Invoke runs call up to inv.MaxRetries times. It never returns an error:
// exhausted retries produce a StatusFailed invocation.
func Invoke[R any](ctx context.Context, inv *Invoker, call Call[R], reader Reader[R], meta CallMeta) *Invocation {
	log := logger.With("invoker")
	attempts := inv.attempts()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		resp, err := call(ctx)
		elapsed := time.Since(start)

		if err == nil {
			return inv.succeed(ctx, resp, reader.Text(resp), reader.Usage(resp), meta, elapsed, attempt+1)
		}

		lastErr = err
		log.Warn().Err(err).
			Str("agent", meta.Agent).
			Str("model", meta.Model).
			Int("attempt", attempt+1).
			Int("max_attempts", attempts).
			Msg("model call failed")

		if attempt+1 < attempts {
			metrics.RecordRetry(meta.Agent)
			if werr := inv.wait(ctx, Backoff(attempt)); werr != nil {
				lastErr = werr
				break
			}
		}
	}

	metrics.RecordModelCall(meta.Agent, false, 0, 0)
	return &Invocation{
		Status:   StatusFailed,
		Error:    lastErr.Error(),
		Attempts: attempts,
	}
}

func (inv *Invoker) succeed(ctx context.Context, resp interface{}, text string, usage TokenUsage, meta CallMeta, elapsed time.Duration, attempts int) *Invocation {
	cost := 0.0
	if inv.Pricer != nil {
		cost = inv.Pricer.PromptCost(meta.Prompt, meta.Model) + inv.Pricer.CompletionCost(text, meta.Model)
	}
	seconds := elapsed.Seconds()
	latencyMs := elapsed.Milliseconds()

	if meta.RoundID != nil && inv.Recorder != nil {
		rec := APICallRecord{
			RoundID:   *meta.RoundID,
			EmailID:   meta.EmailID,
			AgentType: meta.Agent,
			ModelName: meta.Model,
			TokenUsed: usage.TotalTokens,
			Cost:      cost,
			LatencyMs: latencyMs,
			CreatedAt: time.Now(),
		}
		if err := inv.Recorder.SaveAPICall(ctx, rec); err != nil {
			logger.Warnf("[Invoker] Failed to record %s call for round %d: %v", meta.Agent, *meta.RoundID, err)
		}
	}

	metrics.RecordModelCall(meta.Agent, true, seconds, cost)
	return &Invocation{
		Status:        StatusSuccess,
		InferenceTime: seconds,
		LatencyMs:     latencyMs,
		APICost:       cost,
		TokenUsage:    usage,
		Response:      text,
		Raw:           resp,
		Attempts:      attempts,
	}
}
