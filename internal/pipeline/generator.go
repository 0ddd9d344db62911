package pipeline

import (
	"context"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/llm"
)

// Generator is the external decision/generation collaborator. Its output is
// untrusted: every method may fail or return partial data, and the pipeline
// falls back to deterministic values when it does.
type Generator interface {
	AnalyzeContext(ctx context.Context, profile *customer.Profile, event *customer.Event) (*llm.ContextAnalysis, error)
	PlanAction(ctx context.Context, profile *customer.Profile, analysis *llm.ContextAnalysis, churnRisk float64) (*llm.ActionPlan, error)
	ComposeMessage(ctx context.Context, profile *customer.Profile, plan *llm.ActionPlan, analysis *llm.ContextAnalysis) (string, error)
}
