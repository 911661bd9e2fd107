package fraud

import (
	"context"

	"go.uber.org/zap"
)

// RestrictionService is the external collaborator that enforces account
// restrictions. Calls are fire-and-forget from the engine's perspective:
// failures are logged, never propagated into the scoring path.
type RestrictionService interface {
	RestrictUser(ctx context.Context, userID, reason string, severity RiskLevel) error
}

// AuditLogger is the external audit-history collaborator. Best effort; it
// must never fail a detection operation.
type AuditLogger interface {
	LogAction(ctx context.Context, userID, actionType string, severity RiskLevel, reason string, evidence []Evidence) error
}

// NoopRestrictionService satisfies RestrictionService without side effects,
// for deployments that review every restriction manually.
type NoopRestrictionService struct {
	Logger *zap.SugaredLogger
}

func (n NoopRestrictionService) RestrictUser(_ context.Context, userID, reason string, severity RiskLevel) error {
	if n.Logger != nil {
		n.Logger.Infow("restriction requested (noop)",
			"user_id", userID,
			"reason", reason,
			"severity", severity,
		)
	}
	return nil
}

// ZapAuditLogger records audit actions to the structured log when no
// dedicated audit collaborator is wired.
type ZapAuditLogger struct {
	Logger *zap.SugaredLogger
}

func (z ZapAuditLogger) LogAction(_ context.Context, userID, actionType string, severity RiskLevel, reason string, evidence []Evidence) error {
	if z.Logger != nil {
		z.Logger.Infow("audit action",
			"user_id", userID,
			"action_type", actionType,
			"severity", severity,
			"reason", reason,
			"evidence_count", len(evidence),
		)
	}
	return nil
}
