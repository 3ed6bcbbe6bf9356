// Package orchestrator sequences the model-call pipeline behind each
// question: validate, recommend, and for the richer workflow review and
// revise. Each stage is one blocking model call plus normalization; any
// failure aborts the remaining stages. Pipelines share no mutable state,
// so concurrent questions need no locking.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightwave-solutions/advisor/internal/dataset"
	"github.com/brightwave-solutions/advisor/internal/llm"
	"github.com/brightwave-solutions/advisor/internal/metrics"
	"github.com/brightwave-solutions/advisor/internal/normalize"
)

// ErrEmptyQuestion reports a missing or blank question. No model call is
// made in that case.
var ErrEmptyQuestion = errors.New("question is required")

// ValidationResult is the outcome of the gatekeeper stage.
type ValidationResult struct {
	Allowed bool
	Score   float64
	Reason  string
}

// RecommendationTurn is the normalized output of the recommend and
// revise stages.
type RecommendationTurn struct {
	Summary     string
	Bullets     []string
	CitedFields []string
}

// ReviewTurn is the normalized output of the controller review stage.
type ReviewTurn struct {
	Overall             string
	Bullets             []string
	ReplacementCustomer string
	CustomerToReplace   string
	CitedFields         []string
}

// ReviewInput carries the recommendation under review.
type ReviewInput struct {
	Question    string
	Summary     string
	Bullets     []string
	CitedFields []string
}

// ReviseInput carries the original recommendation plus the controller
// feedback to address.
type ReviseInput struct {
	Question            string
	Summary             string
	Bullets             []string
	ControllerBullets   []string
	ControllerFields    []string
	ReplacementCustomer string
	CustomerToReplace   string
}

// Result is the full rich-workflow output, populated up to the stage
// where the pipeline halted.
type Result struct {
	Validation     ValidationResult
	Recommendation *RecommendationTurn
	Review         *ReviewTurn
	Revision       *RecommendationTurn
}

// Orchestrator runs the stage pipeline. Construct once at startup; all
// fields are read-only afterwards.
type Orchestrator struct {
	model     llm.Client
	table     *dataset.Table
	threshold float64
	logger    *zap.Logger
}

// New creates an Orchestrator.
func New(model llm.Client, table *dataset.Table, threshold float64, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		model:     model,
		table:     table,
		threshold: threshold,
		logger:    logger,
	}
}

// Validate gates the question against the target intent. A malformed
// judgment is treated as not allowed, never silently passed.
func (o *Orchestrator) Validate(ctx context.Context, question string) (ValidationResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return ValidationResult{}, ErrEmptyQuestion
	}

	prompt := validatePrompt(question, o.threshold)
	raw, err := o.callStage(ctx, "validate", prompt)
	if err != nil {
		return ValidationResult{}, err
	}

	var parsed struct {
		Similar any    `json:"similar"`
		Score   any    `json:"score"`
		Reason  string `json:"reason"`
	}
	if err := normalize.ExtractJSON(raw, &parsed); err != nil {
		o.logStageFailure("validate", prompt, raw, err)
		metrics.MalformedResponses.WithLabelValues("validate").Inc()
		return ValidationResult{}, err
	}

	score, scoreOK := toFloat(parsed.Score)
	similar, similarOK := parsed.Similar.(bool)

	result := ValidationResult{
		Allowed: similarOK && similar && scoreOK && score >= o.threshold,
		Score:   score,
		Reason:  parsed.Reason,
	}
	if result.Reason == "" {
		result.Reason = "not similar"
	}
	if !result.Allowed {
		metrics.ValidationRejections.Inc()
		o.logger.Info("Question rejected by gatekeeper",
			zap.Float64("score", result.Score),
			zap.String("reason", result.Reason),
		)
	}
	return result, nil
}

// Recommend asks the model to pick the top customers from the dataset.
func (o *Orchestrator) Recommend(ctx context.Context, question string) (*RecommendationTurn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	prompt := recommendPrompt(question, o.table.CSV())
	raw, err := o.callStage(ctx, "recommend", prompt)
	if err != nil {
		return nil, err
	}
	turn, err := parseRecommendation(raw)
	if err != nil {
		o.logStageFailure("recommend", prompt, raw, err)
		metrics.MalformedResponses.WithLabelValues("recommend").Inc()
		return nil, err
	}
	return turn, nil
}

// Review asks the controller model to critique a recommendation and
// optionally propose one substitution.
func (o *Orchestrator) Review(ctx context.Context, in ReviewInput) (*ReviewTurn, error) {
	in.Question = strings.TrimSpace(in.Question)
	if in.Question == "" {
		return nil, ErrEmptyQuestion
	}

	prompt := reviewPrompt(in)
	raw, err := o.callStage(ctx, "review", prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Overall             string `json:"overall"`
		Bullets             any    `json:"bullets"`
		ReplacementCustomer string `json:"replacementCustomer"`
		CustomerToReplace   string `json:"customerToReplace"`
		Fields              any    `json:"fields"`
	}
	if err := normalize.ExtractJSON(raw, &parsed); err != nil {
		o.logStageFailure("review", prompt, raw, err)
		metrics.MalformedResponses.WithLabelValues("review").Inc()
		return nil, err
	}

	return &ReviewTurn{
		Overall:             strings.TrimSpace(parsed.Overall),
		Bullets:             normalize.EnsureList(parsed.Bullets),
		ReplacementCustomer: strings.TrimSpace(parsed.ReplacementCustomer),
		CustomerToReplace:   strings.TrimSpace(parsed.CustomerToReplace),
		CitedFields:         normalize.Fields(parsed.Fields),
	}, nil
}

// Revise asks the model for a recommendation that addresses the
// controller feedback.
func (o *Orchestrator) Revise(ctx context.Context, in ReviseInput) (*RecommendationTurn, error) {
	in.Question = strings.TrimSpace(in.Question)
	if in.Question == "" {
		return nil, ErrEmptyQuestion
	}

	prompt := revisePrompt(in)
	raw, err := o.callStage(ctx, "revise", prompt)
	if err != nil {
		return nil, err
	}
	turn, err := parseRecommendation(raw)
	if err != nil {
		o.logStageFailure("revise", prompt, raw, err)
		metrics.MalformedResponses.WithLabelValues("revise").Inc()
		return nil, err
	}
	return turn, nil
}

// Run executes the full rich workflow for one question, halting after
// validation when the question is rejected. The returned Result carries
// every turn produced before the halt.
func (o *Orchestrator) Run(ctx context.Context, question string) (*Result, error) {
	validation, err := o.Validate(ctx, question)
	if err != nil {
		return nil, err
	}
	result := &Result{Validation: validation}
	if !validation.Allowed {
		return result, nil
	}

	recommendation, err := o.Recommend(ctx, question)
	if err != nil {
		return result, err
	}
	result.Recommendation = recommendation

	review, err := o.Review(ctx, ReviewInput{
		Question:    question,
		Summary:     recommendation.Summary,
		Bullets:     recommendation.Bullets,
		CitedFields: recommendation.CitedFields,
	})
	if err != nil {
		return result, err
	}
	result.Review = review

	revision, err := o.Revise(ctx, ReviseInput{
		Question:            question,
		Summary:             recommendation.Summary,
		Bullets:             recommendation.Bullets,
		ControllerBullets:   review.Bullets,
		ControllerFields:    review.CitedFields,
		ReplacementCustomer: review.ReplacementCustomer,
		CustomerToReplace:   review.CustomerToReplace,
	})
	if err != nil {
		return result, err
	}
	result.Revision = revision
	return result, nil
}

func (o *Orchestrator) callStage(ctx context.Context, stage, prompt string) (string, error) {
	start := time.Now()
	o.logger.Debug("Prompt sent to model",
		zap.String("stage", stage),
		zap.String("prompt", prompt),
	)

	raw, err := o.model.Generate(ctx, prompt)
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		o.logger.Error("Model call failed",
			zap.String("stage", stage),
			zap.Error(err),
		)
		metrics.StageCalls.WithLabelValues(stage, "upstream_error").Inc()
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}

	o.logger.Debug("Model response",
		zap.String("stage", stage),
		zap.String("response", raw),
	)
	metrics.StageCalls.WithLabelValues(stage, "ok").Inc()
	return raw, nil
}

func (o *Orchestrator) logStageFailure(stage, prompt, raw string, err error) {
	o.logger.Error("Stage response not parseable",
		zap.String("stage", stage),
		zap.String("prompt", prompt),
		zap.String("response", raw),
		zap.Error(err),
	)
}

func parseRecommendation(raw string) (*RecommendationTurn, error) {
	var parsed struct {
		Summary string `json:"summary"`
		Bullets any    `json:"bullets"`
		Fields  any    `json:"fields"`
	}
	if err := normalize.ExtractJSON(raw, &parsed); err != nil {
		return nil, err
	}
	return &RecommendationTurn{
		Summary:     strings.TrimSpace(parsed.Summary),
		Bullets:     normalize.EnsureList(parsed.Bullets),
		CitedFields: normalize.Fields(parsed.Fields),
	}, nil
}

// toFloat coerces a decoded JSON score into a float64. Models sometimes
// return the score as a quoted string.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
