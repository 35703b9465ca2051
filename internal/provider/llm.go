package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ShayCichocki/explainit/internal/api"
	"github.com/ShayCichocki/explainit/internal/parser"
	"github.com/ShayCichocki/explainit/internal/retry"
	"github.com/ShayCichocki/explainit/pkg/models"
)

// Operation names, used for prompts, retry contexts and metrics labels.
const (
	OpDecompose   = "decompose"
	OpExplain     = "explain"
	OpCritique    = "critique"
	OpRevise      = "revise"
	OpValidate    = "validate"
	OpRedecompose = "redecompose"
	OpSimilarity  = "similarity"
)

// DefaultTemperature applies to operations without an explicit temperature.
const DefaultTemperature = 0.7

// DefaultTemperatures returns the per-operation sampling temperatures.
// Judging operations run colder than generative ones.
func DefaultTemperatures() map[string]float64 {
	return map[string]float64{
		OpCritique:    0.2,
		OpDecompose:   0.5,
		OpExplain:     0.7,
		OpRevise:      0.7,
		OpRedecompose: 0.5,
		OpValidate:    0.3,
		OpSimilarity:  0.2,
	}
}

// LLM implements Provider on top of a text completer.
// Each call renders a prompt, completes it, parses the JSON payload and
// validates it; malformed payloads are retried like transient errors.
type LLM struct {
	completer    api.Completer
	retry        *retry.Handler
	validate     *validator.Validate
	logger       *zap.Logger
	maxTokens    int
	temperatures map[string]float64
}

// Compile-time interface check.
var _ Provider = (*LLM)(nil)

// Option configures an LLM.
type Option func(*LLM)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *LLM) { p.logger = l }
}

// WithMaxTokens sets the completion size limit.
func WithMaxTokens(n int) Option {
	return func(p *LLM) { p.maxTokens = n }
}

// WithTemperatures overrides temperatures for the given operations.
func WithTemperatures(t map[string]float64) Option {
	return func(p *LLM) {
		for op, v := range t {
			p.temperatures[op] = v
		}
	}
}

// NewLLM creates an LLM provider. A nil handler gets retry.DefaultConfig.
func NewLLM(completer api.Completer, h *retry.Handler, opts ...Option) *LLM {
	if h == nil {
		h = retry.NewHandler(retry.DefaultConfig())
	}
	p := &LLM{
		completer:    completer,
		retry:        h,
		validate:     newValidator(),
		logger:       zap.NewNop(),
		maxTokens:    api.DefaultMaxTokens,
		temperatures: DefaultTemperatures(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (p *LLM) temperature(op string) float64 {
	if t, ok := p.temperatures[op]; ok {
		return t
	}
	return DefaultTemperature
}

// call runs one provider operation through the retry handler.
func call[T any](ctx context.Context, p *LLM, op, subject string, data any, decode func(raw string) (*T, error)) (*T, error) {
	system, user, err := renderPrompt(op, data)
	if err != nil {
		return nil, err
	}
	req := api.CompletionRequest{
		System:      system,
		Prompt:      user,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature(op),
	}
	octx := retry.OperationContext{Operation: op, Subject: subject}

	return retry.Do(ctx, p.retry, octx, func(ctx context.Context) (*T, error) {
		raw, err := p.completer.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		out, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if err := p.validate.Struct(out); err != nil {
			return nil, &parser.ParseError{Message: fmt.Sprintf("invalid %s payload", op), Raw: raw, Err: err}
		}
		p.logger.Debug("provider call complete", zap.String("op", op), zap.String("subject", subject))
		return out, nil
	})
}

// direct decodes the payload as T.
func direct[T any](raw string) (*T, error) {
	out := new(T)
	if err := parser.ParseInto(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// enveloped decodes {"<key>": T}, falling back to a bare T when the
// envelope key is absent.
func enveloped[T any](key string) func(raw string) (*T, error) {
	return func(raw string) (*T, error) {
		payload, err := parser.Parse(raw)
		if err != nil {
			return nil, err
		}
		var env map[string]json.RawMessage
		if err := json.Unmarshal(payload, &env); err == nil {
			if inner, ok := env[key]; ok && string(inner) != "null" {
				out := new(T)
				if err := json.Unmarshal(inner, out); err != nil {
					return nil, &parser.ParseError{Message: "decode " + key, Raw: raw, Err: err}
				}
				return out, nil
			}
		}
		out := new(T)
		if err := json.Unmarshal(payload, out); err != nil {
			return nil, &parser.ParseError{Message: fmt.Sprintf("decode into %T", out), Raw: raw, Err: err}
		}
		return out, nil
	}
}

// Decompose implements Provider.
func (p *LLM) Decompose(ctx context.Context, req DecomposeRequest) (*models.Decomposition, error) {
	if req.RootTopic == "" {
		req.RootTopic = req.Topic
	}
	d, err := call(ctx, p, OpDecompose, req.Topic, req, direct[models.Decomposition])
	if err != nil {
		return nil, fmt.Errorf("decompose %q: %w", req.Topic, err)
	}
	return d, nil
}

// Explain implements Provider.
func (p *LLM) Explain(ctx context.Context, req ExplainRequest) (*models.Explanation, error) {
	if req.Persona == "" {
		req.Persona = models.DefaultPersona
	}
	e, err := call(ctx, p, OpExplain, req.Concept, req, direct[models.Explanation])
	if err != nil {
		return nil, fmt.Errorf("explain %q: %w", req.Concept, err)
	}
	return e, nil
}

// Critique implements Provider.
func (p *LLM) Critique(ctx context.Context, req CritiqueRequest) (*models.Critique, error) {
	if req.Persona == "" {
		req.Persona = models.DefaultPersona
	}
	data := struct {
		CritiqueRequest
		PersonaDefinition string
	}{req, req.Persona.Definition()}

	c, err := call(ctx, p, OpCritique, req.ConceptName, data, func(raw string) (*models.Critique, error) {
		c, err := direct[models.Critique](raw)
		if err != nil {
			return nil, err
		}
		c.Verdict = c.Verdict.Normalize()
		switch c.Verdict {
		case models.VerdictPass, models.VerdictRevise, models.VerdictRethink:
			return c, nil
		default:
			return nil, &parser.ParseError{Message: fmt.Sprintf("unknown critique verdict %q", c.Verdict), Raw: raw}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("critique %q: %w", req.ConceptName, err)
	}
	return c, nil
}

// Revise implements Provider.
func (p *LLM) Revise(ctx context.Context, req ReviseRequest) (*models.Explanation, error) {
	subject := ""
	if req.Explanation != nil {
		subject = req.Explanation.ConceptName
	}
	if req.Critique == nil {
		req.Critique = &models.Critique{Verdict: models.VerdictRevise}
	}
	e, err := call(ctx, p, OpRevise, subject, req, enveloped[models.Explanation]("revisedExplanation"))
	if err != nil {
		return nil, fmt.Errorf("revise %q: %w", subject, err)
	}
	return e, nil
}

// Validate implements Provider.
func (p *LLM) Validate(ctx context.Context, req ValidateRequest) (*models.Validation, error) {
	if req.RootTopic == "" {
		req.RootTopic = req.Topic
	}
	v, err := call(ctx, p, OpValidate, req.Topic, req, func(raw string) (*models.Validation, error) {
		v, err := direct[models.Validation](raw)
		if err != nil {
			return nil, err
		}
		v.Verdict = v.Verdict.Normalize()
		switch v.Verdict {
		case models.VerdictValid, models.VerdictNeedsRedecomposition:
			return v, nil
		default:
			return nil, &parser.ParseError{Message: fmt.Sprintf("unknown validation verdict %q", v.Verdict), Raw: raw}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("validate %q: %w", req.Topic, err)
	}
	return v, nil
}

// Redecompose implements Provider.
func (p *LLM) Redecompose(ctx context.Context, req RedecomposeRequest) (*models.Decomposition, error) {
	d, err := call(ctx, p, OpRedecompose, req.Topic, req, enveloped[models.Decomposition]("newDecomposition"))
	if err != nil {
		return nil, fmt.Errorf("redecompose %q: %w", req.Topic, err)
	}
	return d, nil
}

// CheckSimilarity implements Provider.
func (p *LLM) CheckSimilarity(ctx context.Context, candidate string, existing []string) (*models.Similarity, error) {
	if len(existing) == 0 {
		return &models.Similarity{Reasoning: "No existing concepts to compare against."}, nil
	}
	data := struct {
		Candidate string
		Existing  []string
	}{candidate, existing}

	s, err := call(ctx, p, OpSimilarity, candidate, data, direct[models.Similarity])
	if err != nil {
		return nil, fmt.Errorf("check similarity %q: %w", candidate, err)
	}
	return s, nil
}
