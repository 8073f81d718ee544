package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	ReasonAllowed         = "allowed"
	ReasonUpgradeRequired = "upgrade_required"
)

// Decision is the outcome of an entitlement check. When the check denies,
// UpgradeTier names the cheapest tier that would flip it to allowed.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason"`
	UserTier     Tier   `json:"user_tier"`
	RequiredTier Tier   `json:"required_tier"`
	UpgradeTier  Tier   `json:"upgrade_tier,omitempty"`
}

// Gate decides whether a user's plan covers a pipeline stage.
type Gate struct {
	source Source
	matrix Matrix
	logger *slog.Logger
}

func NewGate(source Source, matrix Matrix, logger *slog.Logger) (*Gate, error) {
	if source == nil {
		return nil, fmt.Errorf("entitlement source is required")
	}
	if err := matrix.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{source: source, matrix: matrix, logger: logger}, nil
}

// Authorize resolves the user's tier and compares it against the stage's
// requirement. Lookup failures propagate as errors so callers can tell a
// denial apart from an unavailable billing backend.
func (g *Gate) Authorize(ctx context.Context, userID, stage string) (Decision, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Decision{}, fmt.Errorf("user id is required")
	}

	tier, err := g.source.TierFor(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve tier for %s: %w", userID, err)
	}

	required := g.matrix.RequiredFor(stage)
	if tier.AtLeast(required) {
		return Decision{
			Allowed:      true,
			Reason:       ReasonAllowed,
			UserTier:     tier,
			RequiredTier: required,
		}, nil
	}

	g.logger.Info("entitlement denied",
		"user_id", userID,
		"stage", stage,
		"user_tier", string(tier),
		"required_tier", string(required))

	return Decision{
		Allowed:      false,
		Reason:       ReasonUpgradeRequired,
		UserTier:     tier,
		RequiredTier: required,
		UpgradeTier:  required,
	}, nil
}
