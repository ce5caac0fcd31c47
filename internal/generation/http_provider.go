package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/metrics"
)

// HTTPProvider talks to an OpenAI-compatible chat completions endpoint
type HTTPProvider struct {
	id      string
	cfg     config.ProviderConfig
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter // nil when unpaced
	logger  *zap.Logger
}

// NewHTTPProvider builds a provider with its own breaker and pacing.
func NewHTTPProvider(id string, cfg config.ProviderConfig, timeout time.Duration, breakerCfg circuitbreaker.Config, logger *zap.Logger) *HTTPProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), cfg.RPM)
	}
	return &HTTPProvider{
		id:      id,
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapperWithConfig(&http.Client{Timeout: timeout}, "generation-"+id, "generation", breakerCfg, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// ID returns the provider identifier.
func (p *HTTPProvider) ID() string { return p.id }

// Available reports whether the breaker would let a dispatch through.
func (p *HTTPProvider) Available() bool {
	return p.http.Breaker().State() != circuitbreaker.StateOpen
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate issues one unary completion.
func (p *HTTPProvider) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	resp, err := p.do(ctx, req, false)
	if err != nil {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	metrics.RecordGenerationMetrics(p.id, "ok", time.Since(start).Seconds())
	return Response{
		Text: parsed.Choices[0].Message.Content,
		Usage: Usage{
			Model:        p.cfg.Model,
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// GenerateStream issues a streaming completion and forwards deltas as they
// arrive. Context cancellation aborts the stream mid-flight.
func (p *HTTPProvider) GenerateStream(ctx context.Context, req Request, onDelta func(delta string) error) (Response, error) {
	start := time.Now()
	resp, err := p.do(ctx, req, true)
	if err != nil {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, err
	}
	defer resp.Body.Close()

	var full strings.Builder
	usage := Usage{Model: p.cfg.Model}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var parsed chatResponse
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			continue
		}
		if parsed.Usage.PromptTokens > 0 || parsed.Usage.CompletionTokens > 0 {
			usage.InputTokens = parsed.Usage.PromptTokens
			usage.OutputTokens = parsed.Usage.CompletionTokens
		}
		if len(parsed.Choices) == 0 {
			continue
		}
		delta := parsed.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return Response{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		metrics.RecordGenerationMetrics(p.id, "error", time.Since(start).Seconds())
		return Response{}, fmt.Errorf("%w: stream read: %v", ErrUnavailable, err)
	}

	metrics.RecordGenerationMetrics(p.id, "ok", time.Since(start).Seconds())
	return Response{Text: full.String(), Usage: usage}, nil
}

func (p *HTTPProvider) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: pacing: %v", ErrUnavailable, err)
		}
	}

	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return resp, nil
}
