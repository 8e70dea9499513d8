package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/wire"
)

// Sizing bundles the config inputs to volume computation.
type Sizing struct {
	RiskPerTrade float64 // fraction of balance, default 0.01
	Balance      float64
}

// Plan is the fully-normalised order ready for dispatch.
type Plan struct {
	Side             model.Side
	Entry            float64
	TakeProfitPrice  float64
	StopLossPrice    float64
	Volume           float64
	RelativeTP       float64
	RelativeSL       float64
}

// BuildPlan computes TP/SL prices (normalised), adjusts them to the symbol's
// minimum distance, and sizes volume -- the full order-issuer
// pipeline, pure and side-effect free.
func BuildPlan(side model.Side, entry float64, tpPct, slPct float64, md *model.Metadata, sizing Sizing) Plan {
	digits := model.PriceDigitsOrDefault(md)

	var tpRaw, slRaw float64
	if side == model.SideBuy {
		tpRaw = entry * (1 + tpPct)
		slRaw = entry * (1 - slPct)
	} else {
		tpRaw = entry * (1 - tpPct)
		slRaw = entry * (1 + slPct)
	}

	tp := NormalizePrice(tpRaw, digits)
	sl := NormalizePrice(slRaw, digits)

	var minDistance float64
	if md != nil {
		minDistance = md.MinDistancePrice
	}
	tp, sl = adjustMinDistance(side, entry, tp, sl, minDistance, digits)

	slDistance := entry - sl
	if slDistance < 0 {
		slDistance = -slDistance
	}
	volume := sizeVolume(sizing, slDistance, md)

	relTP := tp - entry
	relSL := entry - sl
	if side == model.SideSell {
		relTP = entry - tp
		relSL = sl - entry
	}

	return Plan{
		Side:            side,
		Entry:           entry,
		TakeProfitPrice: tp,
		StopLossPrice:   sl,
		Volume:          volume,
		RelativeTP:      relTP,
		RelativeSL:      relSL,
	}
}

// adjustMinDistance pushes tp/sl outward (never inward) so that both are at
// least minDistance from entry, when minDistance is known.
func adjustMinDistance(side model.Side, entry, tp, sl, minDistance float64, digits int) (float64, float64) {
	if minDistance <= 0 {
		return tp, sl
	}

	switch side {
	case model.SideBuy:
		if tp-entry < minDistance {
			tp = NormalizePrice(entry+minDistance, digits)
		}
		if entry-sl < minDistance {
			sl = NormalizePrice(entry-minDistance, digits)
		}
	case model.SideSell:
		if entry-tp < minDistance {
			tp = NormalizePrice(entry-minDistance, digits)
		}
		if sl-entry < minDistance {
			sl = NormalizePrice(entry+minDistance, digits)
		}
	}
	return tp, sl
}

func sizeVolume(sizing Sizing, slDistance float64, md *model.Metadata) float64 {
	if sizing.RiskPerTrade <= 0 {
		sizing.RiskPerTrade = 0.01
	}
	if slDistance <= 0 {
		slDistance = 1
	}

	riskAmount := sizing.RiskPerTrade * sizing.Balance
	volume := riskAmount / slDistance

	if md == nil {
		return volume
	}
	if md.VolumeStep > 0 {
		steps := volume / md.VolumeStep
		volume = float64(int64(steps+0.5)) * md.VolumeStep
	}
	if md.MinVolume > 0 && volume < md.MinVolume {
		volume = md.MinVolume
	}
	return volume
}

// Sender is the minimal router capability the issuer needs.
type Sender interface {
	Send(wire.Envelope) error
}

// Dispatch sends the order wire message for plan and returns the freshly
// generated local Position, recorded as pending (not yet confirmed) until an
// ExecutionEvent arrives.
func Dispatch(ctx context.Context, sender Sender, symbolID int64, plan Plan, now time.Time) (model.Position, error) {
	sideCode := int32(0)
	if plan.Side == model.SideSell {
		sideCode = 1
	}

	req := wire.NewOrderReq{
		SymbolID:           symbolID,
		Side:               sideCode,
		Volume:             plan.Volume,
		RelativeTakeProfit: plan.RelativeTP,
		RelativeStopLoss:   plan.RelativeSL,
	}
	if err := sender.Send(wire.Envelope{PayloadType: uint32(wire.PayloadNewOrderReq), Payload: req.Marshal()}); err != nil {
		return model.Position{}, apperror.Wrap(apperror.KindTransport, err, "sending NewOrderReq")
	}

	return model.Position{
		LocalID:         uuid.NewString(),
		SymbolID:        symbolID,
		Side:            plan.Side,
		Volume:          plan.Volume,
		EntryPrice:      plan.Entry,
		TakeProfitPrice: plan.TakeProfitPrice,
		StopLossPrice:   plan.StopLossPrice,
		OpenedAt:        now,
		LastChecked:     now,
	}, nil
}
