package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/procx/backend/internal/customer"
	"github.com/procx/backend/internal/dedup"
	"github.com/procx/backend/internal/detector"
	"github.com/procx/backend/internal/escalation"
	"github.com/procx/backend/internal/llm"
	"github.com/procx/backend/internal/metrics"
	"github.com/procx/backend/internal/scoring"
	"github.com/procx/backend/pkg/logger"
)

// Config are the pipeline decision thresholds and scan limits.
type Config struct {
	ChurnRiskThreshold      float64
	VIPChurnEscalation      float64
	CriticalChurnEscalation float64
	UrgencyThreshold        int

	ScanConcurrency         int
	MaxInterventionsPerScan int
	MinChurnRisk            float64
	MinLifetimeValue        float64
	SamplePerSegment        int
}

func DefaultConfig() Config {
	return Config{
		ChurnRiskThreshold:      0.7,
		VIPChurnEscalation:      0.8,
		CriticalChurnEscalation: 0.85,
		UrgencyThreshold:        4,
		ScanConcurrency:         4,
		MaxInterventionsPerScan: 10,
		MinChurnRisk:            0.6,
		MinLifetimeValue:        1000,
		SamplePerSegment:        30,
	}
}

// ScanEvent is published to observers as a scan progresses.
type ScanEvent struct {
	Type         string    `json:"type"`
	CustomerID   string    `json:"customer_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	EscalationID string    `json:"escalation_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher receives scan events. Implementations must not block.
type Publisher interface {
	Publish(event ScanEvent)
}

// Orchestrator threads each selected customer through the four decision
// stages, consulting the contact window and the escalation tracker first.
type Orchestrator struct {
	repo     customer.Repository
	det      *detector.Detector
	tracker  *escalation.Tracker
	contacts dedup.ContactLog
	gen      Generator
	pub      Publisher
	cfg      Config
	now      func() time.Time
}

func NewOrchestrator(repo customer.Repository, det *detector.Detector, tracker *escalation.Tracker, contacts dedup.ContactLog, gen Generator, cfg Config) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		det:      det,
		tracker:  tracker,
		contacts: contacts,
		gen:      gen,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetPublisher attaches a scan event observer.
func (o *Orchestrator) SetPublisher(pub Publisher) {
	o.pub = pub
}

func (o *Orchestrator) publish(event ScanEvent) {
	if o.pub != nil {
		event.Timestamp = o.now()
		o.pub.Publish(event)
	}
}

// Process runs one customer through the pipeline. A nil event synthesizes a
// proactive retention event. Stage failures degrade to fallbacks; only
// storage-level failures surface as errors.
func (o *Orchestrator) Process(ctx context.Context, customerID string, event *customer.Event) (*Result, error) {
	contacted, contactedAt, err := o.contacts.RecentlyContacted(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check contact window: %w", err)
	}
	if contacted {
		metrics.DedupSkips.Inc()
		metrics.PipelineOutcomes.WithLabelValues(StatusSkipped).Inc()
		logger.Debug("Customer inside contact window, skipping",
			zap.String("customer_id", customerID),
			zap.Time("contacted_at", contactedAt),
		)
		result := &Result{
			CustomerID:  customerID,
			Status:      StatusSkipped,
			SkipReason:  fmt.Sprintf("contacted at %s, inside dedup window", contactedAt.Format(time.RFC3339)),
			ProcessedAt: o.now(),
		}
		o.publish(ScanEvent{Type: "customer_skipped", CustomerID: customerID, Status: StatusSkipped})
		return result, nil
	}

	if skip := o.tracker.ShouldSkip(customerID); skip.ShouldSkip {
		metrics.PipelineOutcomes.WithLabelValues(StatusSkipped).Inc()
		logger.Info("Customer already escalated, skipping",
			zap.String("customer_id", customerID),
			zap.String("escalation_id", skip.EscalationID),
		)
		result := &Result{
			CustomerID:   customerID,
			Status:       StatusSkipped,
			SkipReason:   skip.Reason,
			EscalationID: skip.EscalationID,
			ProcessedAt:  o.now(),
		}
		o.publish(ScanEvent{Type: "customer_skipped", CustomerID: customerID, Status: StatusSkipped, EscalationID: skip.EscalationID})
		return result, nil
	}

	profile, err := o.repo.GetByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer %s: %w", customerID, err)
	}
	agg, err := o.repo.GetAggregates(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregates for %s: %w", customerID, err)
	}

	if event == nil {
		event = &customer.Event{
			ID:          uuid.NewString(),
			CustomerID:  customerID,
			Type:        customer.EventProactiveRetention,
			Timestamp:   o.now(),
			Description: "proactive retention outreach",
		}
	}

	pctx := &Context{Profile: profile, Aggregates: agg, Event: event}
	o.publish(ScanEvent{Type: "customer_started", CustomerID: customerID})

	o.runContextStage(ctx, pctx)
	o.runPatternStage(ctx, pctx)
	o.runDecisionStage(ctx, pctx)
	analysis := &llm.ContextAnalysis{Sentiment: pctx.Sentiment, Urgency: pctx.Urgency, Summary: pctx.Summary}
	o.runGenerationStage(ctx, pctx, analysis)

	status := StatusSent
	escalationID := ""
	if pctx.EscalationNeeded {
		escalationID, err = o.tracker.Create(ctx, customerID, pctx.EscalationReason, pctx.Priority, pctx.HealthScore)
		if err != nil {
			return nil, fmt.Errorf("failed to create escalation for %s: %w", customerID, err)
		}
		status = StatusEscalated
		metrics.EscalationsCreated.WithLabelValues(pctx.Priority).Inc()
		metrics.ActiveEscalations.Set(float64(len(o.tracker.ActiveSet())))
		o.publish(ScanEvent{Type: "escalation_created", CustomerID: customerID, EscalationID: escalationID})
	}

	if err := o.contacts.MarkContacted(ctx, customerID, status); err != nil {
		logger.Warn("Failed to record customer contact",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
	}

	metrics.PipelineOutcomes.WithLabelValues(status).Inc()
	o.publish(ScanEvent{Type: "customer_completed", CustomerID: customerID, Status: status, EscalationID: escalationID})

	logger.Info("Pipeline run complete",
		zap.String("customer_id", customerID),
		zap.String("status", status),
		zap.String("priority", pctx.Priority),
		zap.Float64("churn_risk", pctx.ChurnRisk),
	)

	return &Result{
		CustomerID:   customerID,
		Status:       status,
		HealthScore:  pctx.HealthScore,
		ChurnRisk:    pctx.ChurnRisk,
		RiskLevel:    pctx.RiskLevel,
		Priority:     pctx.Priority,
		ActionType:   pctx.ActionType,
		Channel:      pctx.Channel,
		Message:      pctx.Message,
		EscalationID: escalationID,
		ProcessedAt:  o.now(),
		Trail:        pctx.Trail,
	}, nil
}

func (o *Orchestrator) runContextStage(ctx context.Context, pctx *Context) {
	analysis, err := o.gen.AnalyzeContext(ctx, pctx.Profile, pctx.Event)
	if err != nil {
		metrics.StageFallbacks.WithLabelValues(StageContext).Inc()
		logger.Warn("Context stage degraded to fallback",
			zap.String("customer_id", pctx.Profile.ID),
			zap.Error(err),
		)
		analysis = &llm.ContextAnalysis{
			Sentiment: "neutral",
			Urgency:   3,
			Summary:   pctx.Event.Description,
		}
	}
	pctx.recordStage(StageContext, err)
	pctx.Sentiment = analysis.Sentiment
	pctx.Urgency = analysis.Urgency
	pctx.Summary = analysis.Summary
}

func (o *Orchestrator) runPatternStage(ctx context.Context, pctx *Context) {
	health, risk, err := o.det.ScoreCustomer(ctx, pctx.Profile)
	if err != nil {
		metrics.StageFallbacks.WithLabelValues(StagePattern).Inc()
		logger.Warn("Pattern stage degraded to fallback",
			zap.String("customer_id", pctx.Profile.ID),
			zap.Error(err),
		)
		health, risk = 0.5, 0.5
	}
	pctx.recordStage(StagePattern, err)
	pctx.HealthScore = health
	pctx.ChurnRisk = risk
	pctx.RiskLevel = scoring.CategorizeRisk(risk)

	metrics.HealthScores.Observe(health)
	metrics.ChurnRisks.Observe(risk)

	now := o.now()
	if days, ok := pctx.Profile.DaysSinceActive(now); ok {
		pctx.PatternNotes = append(pctx.PatternNotes, fmt.Sprintf("last active %d days ago", days))
	}
	if pctx.Aggregates != nil && pctx.Aggregates.Orders != nil {
		pctx.PatternNotes = append(pctx.PatternNotes,
			fmt.Sprintf("%d orders, %.1f per month", pctx.Aggregates.Orders.TotalOrders, pctx.Aggregates.Orders.OrdersPerMonth))
	}
	if pctx.Aggregates != nil && pctx.Aggregates.Support != nil && pctx.Aggregates.Support.AvgCSAT != nil {
		pctx.PatternNotes = append(pctx.PatternNotes,
			fmt.Sprintf("%d support tickets, avg CSAT %.1f", pctx.Aggregates.Support.TotalTickets, *pctx.Aggregates.Support.AvgCSAT))
	}
}

func (o *Orchestrator) runDecisionStage(ctx context.Context, pctx *Context) {
	// Rules run before the external call so escalation cannot depend on it.
	pctx.EscalationNeeded, pctx.EscalationReason = decideEscalation(
		pctx.Profile, pctx.Aggregates, pctx.Sentiment, pctx.Urgency, pctx.ChurnRisk, o.cfg)
	pctx.Priority = decidePriority(pctx.Profile, pctx.Sentiment, pctx.Urgency, pctx.ChurnRisk)

	analysis := &llm.ContextAnalysis{Sentiment: pctx.Sentiment, Urgency: pctx.Urgency, Summary: pctx.Summary}
	plan, err := o.gen.PlanAction(ctx, pctx.Profile, analysis, pctx.ChurnRisk)
	if err != nil {
		metrics.StageFallbacks.WithLabelValues(StageDecision).Inc()
		logger.Warn("Decision stage degraded to fallback",
			zap.String("customer_id", pctx.Profile.ID),
			zap.Error(err),
		)
		plan = fallbackPlan(pctx.Profile)
	}
	pctx.recordStage(StageDecision, err)

	pctx.ActionType = plan.ActionType
	pctx.OfferType = plan.OfferType
	pctx.Channel = ChannelPlan{Primary: plan.Channel, Fallback: "email"}
	pctx.Compliance = ComplianceInfo{
		OptInRequired: plan.Channel == "email" || plan.Channel == "sms",
		OptedIn:       pctx.Profile.OptInMarketing != nil && *pctx.Profile.OptInMarketing,
	}
}

func (o *Orchestrator) runGenerationStage(ctx context.Context, pctx *Context, analysis *llm.ContextAnalysis) {
	plan := &llm.ActionPlan{ActionType: pctx.ActionType, Channel: pctx.Channel.Primary, OfferType: pctx.OfferType}
	message, err := o.gen.ComposeMessage(ctx, pctx.Profile, plan, analysis)
	if err != nil || message == "" {
		metrics.StageFallbacks.WithLabelValues(StageGeneration).Inc()
		logger.Warn("Generation stage degraded to fallback",
			zap.String("customer_id", pctx.Profile.ID),
			zap.Error(err),
		)
		message = fallbackMessage(pctx.Profile, pctx.Sentiment, pctx.Urgency, pctx.EscalationNeeded)
	}
	pctx.recordStage(StageGeneration, err)
	pctx.Message = message
}

// ScanOptions narrows a batch scan; zero values fall back to the
// orchestrator's config.
type ScanOptions struct {
	MinRisk          float64
	MinLifetimeValue float64
	Segments         []customer.Segment
	MaxInterventions int
}

// ScanSummary aggregates per-customer outcomes of one batch scan.
type ScanSummary struct {
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
	AlertsDetected int               `json:"alerts_detected"`
	Processed      int               `json:"processed"`
	Sent           int               `json:"sent"`
	Escalated      int               `json:"escalated"`
	Skipped        int               `json:"skipped"`
	Failed         int               `json:"failed"`
	Cancelled      bool              `json:"cancelled"`
	Failures       map[string]string `json:"failures,omitempty"`
	Results        []Result          `json:"results"`
}

// RunScan detects at-risk customers and pipelines the top alerts through a
// bounded worker pool. One customer's failure never blocks the others;
// cancellation is honored between customers while in-flight runs complete to
// their fallbacks.
func (o *Orchestrator) RunScan(ctx context.Context, opts ScanOptions) (*ScanSummary, error) {
	minRisk := opts.MinRisk
	if minRisk == 0 {
		minRisk = o.cfg.MinChurnRisk
	}
	minLTV := opts.MinLifetimeValue
	if minLTV == 0 {
		minLTV = o.cfg.MinLifetimeValue
	}
	maxInterventions := opts.MaxInterventions
	if maxInterventions == 0 {
		maxInterventions = o.cfg.MaxInterventionsPerScan
	}
	concurrency := o.cfg.ScanConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	summary := &ScanSummary{
		StartedAt: o.now(),
		Failures:  make(map[string]string),
	}

	alerts, err := o.det.Detect(ctx, detector.Options{
		MinRisk:          minRisk,
		MinLifetimeValue: minLTV,
		Segments:         opts.Segments,
		SamplePerSegment: o.cfg.SamplePerSegment,
	})
	if err != nil {
		metrics.ScanTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to detect at-risk customers: %w", err)
	}
	summary.AlertsDetected = len(alerts)
	for _, a := range alerts {
		metrics.AlertsGenerated.WithLabelValues(string(a.RiskLevel)).Inc()
	}
	if len(alerts) > maxInterventions {
		alerts = alerts[:maxInterventions]
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan detector.Alert)
	)

	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for alert := range jobs {
				if ctx.Err() != nil {
					continue
				}
				result, err := o.Process(ctx, alert.CustomerID, nil)

				mu.Lock()
				summary.Processed++
				if err != nil {
					summary.Failed++
					summary.Failures[alert.CustomerID] = err.Error()
					logger.Error("Pipeline run failed",
						zap.String("customer_id", alert.CustomerID),
						zap.Error(err),
					)
					mu.Unlock()
					continue
				}
				switch result.Status {
				case StatusSent:
					summary.Sent++
				case StatusEscalated:
					summary.Escalated++
				case StatusSkipped:
					summary.Skipped++
				}
				summary.Results = append(summary.Results, *result)
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, alert := range alerts {
		select {
		case <-ctx.Done():
			summary.Cancelled = true
			break dispatch
		case jobs <- alert:
		}
	}
	close(jobs)
	wg.Wait()

	summary.FinishedAt = o.now()
	metrics.ScanDuration.Observe(summary.FinishedAt.Sub(summary.StartedAt).Seconds())
	if summary.Cancelled {
		metrics.ScanTotal.WithLabelValues("cancelled").Inc()
	} else {
		metrics.ScanTotal.WithLabelValues("completed").Inc()
	}

	logger.Info("Batch scan complete",
		zap.Int("alerts", summary.AlertsDetected),
		zap.Int("processed", summary.Processed),
		zap.Int("sent", summary.Sent),
		zap.Int("escalated", summary.Escalated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("cancelled", summary.Cancelled),
	)

	return summary, nil
}
