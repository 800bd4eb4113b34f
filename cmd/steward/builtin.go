package main

import (
	"context"
	"fmt"

	"github.com/metalagman/steward/internal/agent"
	"github.com/metalagman/steward/internal/memory"
	"github.com/metalagman/steward/internal/model"
	"github.com/metalagman/steward/internal/orchestrator"
)

// reviewDigestAgent reports flagged memory updates waiting for a human.
const reviewDigestAgent = "review-digest"

func registerBuiltins(o *orchestrator.Orchestrator) {
	o.RegisterLocal(reviewDigestAgent, reviewDigest)
}

func reviewDigest(ctx context.Context, rc agent.RunContext) (model.AgentOutput, error) {
	if err := ctx.Err(); err != nil {
		return model.AgentOutput{}, err
	}
	rc.Report("reading " + memory.ReviewQueue)
	n, err := memory.PendingReviews(rc.BasePath)
	if err != nil {
		return model.AgentOutput{}, err
	}
	if n == 0 {
		return model.AgentOutput{}, nil
	}

	urgency := model.UrgencyMedium
	if n >= 10 {
		urgency = model.UrgencyHigh
	}
	return model.AgentOutput{
		Findings: []model.Finding{{
			Type:            model.FindingActionItem,
			Summary:         fmt.Sprintf("%d flagged memory updates await review", n),
			Urgency:         urgency,
			Confidence:      1,
			SuggestedAction: "Review " + memory.ReviewQueue,
			ContextRefs:     []string{memory.ReviewQueue},
			RequiresHuman:   true,
		}},
	}, nil
}
