package broadcast

import (
	"context"
	"log/slog"

	"github.com/chiwar/encounter/internal/projector"
	"github.com/chiwar/encounter/pkg/core"
	"github.com/chiwar/encounter/pkg/streaming"
)

// Notifier announces committed fight changes: the fight channel receives
// the full projection, the campaign channel a short notice.
// Delivery failures are logged and never fail the caller.
type Notifier struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// FightChanged publishes fight_updated and campaign_updated for f.
func (n Notifier) FightChanged(ctx context.Context, f *core.Fight, reason string) {
	if n.Publisher == nil || f == nil {
		return
	}
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fightEnv, err := streaming.NewEnvelope(streaming.TypeFightUpdated, streaming.FightChannel(f.ID), projector.Project(f))
	if err != nil {
		logger.WarnContext(ctx, "failed to build fight update", "fightID", f.ID, "error", err)
		return
	}
	if err := n.Publisher.Publish(ctx, fightEnv); err != nil {
		logger.WarnContext(ctx, "failed to publish fight update", "fightID", f.ID, "error", err)
	}

	campaignEnv, err := streaming.NewEnvelope(streaming.TypeCampaignUpdated, streaming.CampaignChannel(f.CampaignID),
		streaming.CampaignUpdatedPayload{CampaignID: f.CampaignID, FightID: f.ID, Reason: reason})
	if err != nil {
		logger.WarnContext(ctx, "failed to build campaign update", "campaignID", f.CampaignID, "error", err)
		return
	}
	if err := n.Publisher.Publish(ctx, campaignEnv); err != nil {
		logger.WarnContext(ctx, "failed to publish campaign update", "campaignID", f.CampaignID, "error", err)
	}
}
