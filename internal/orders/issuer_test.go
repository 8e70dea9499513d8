package orders

import (
	"testing"

	"github.com/palmoil/agent/internal/model"
)

func TestBuildPlanBuySide(t *testing.T) {
	md := &model.Metadata{PriceDigits: 3, MinVolume: 0.01, VolumeStep: 0.01}
	plan := BuildPlan(model.SideBuy, 14.12345, 0.02, 0.015, md, Sizing{RiskPerTrade: 0.01, Balance: 10000})

	if plan.TakeProfitPrice != 14.406 {
		t.Errorf("TakeProfitPrice = %v, want 14.406", plan.TakeProfitPrice)
	}
	if plan.StopLossPrice != 13.912 {
		t.Errorf("StopLossPrice = %v, want 13.912", plan.StopLossPrice)
	}
	if plan.TakeProfitPrice <= plan.Entry || plan.StopLossPrice >= plan.Entry {
		t.Errorf("TP/SL not on correct side of entry for Buy: %+v", plan)
	}
}

func TestBuildPlanSellSideMirrorsDistances(t *testing.T) {
	md := &model.Metadata{PriceDigits: 3}
	plan := BuildPlan(model.SideSell, 100, 0.02, 0.015, md, Sizing{RiskPerTrade: 0.01, Balance: 10000})

	if plan.TakeProfitPrice >= plan.Entry || plan.StopLossPrice <= plan.Entry {
		t.Errorf("TP/SL not on correct side of entry for Sell: %+v", plan)
	}
}

func TestBuildPlanNoMetadataUsesDefaultDigits(t *testing.T) {
	plan := BuildPlan(model.SideBuy, 14.3592, 0.02, 0.015, nil, Sizing{RiskPerTrade: 0.01, Balance: 10000})
	if plan.TakeProfitPrice != 14.64638 {
		t.Errorf("TakeProfitPrice = %v, want 14.64638 (default 5-digit precision)", plan.TakeProfitPrice)
	}
}

func TestAdjustMinDistanceWidensToMinimum(t *testing.T) {
	md := &model.Metadata{PriceDigits: 2, MinDistancePrice: 5}
	plan := BuildPlan(model.SideBuy, 100, 0.001, 0.001, md, Sizing{RiskPerTrade: 0.01, Balance: 10000})

	if plan.TakeProfitPrice-plan.Entry < md.MinDistancePrice {
		t.Errorf("TP distance %v below minimum %v", plan.TakeProfitPrice-plan.Entry, md.MinDistancePrice)
	}
	if plan.Entry-plan.StopLossPrice < md.MinDistancePrice {
		t.Errorf("SL distance %v below minimum %v", plan.Entry-plan.StopLossPrice, md.MinDistancePrice)
	}
}

func TestSizeVolumeClampsToMinimumAndStep(t *testing.T) {
	md := &model.Metadata{MinVolume: 1.0, VolumeStep: 0.5}
	v := sizeVolume(Sizing{RiskPerTrade: 0.0001, Balance: 100}, 10, md)
	if v != md.MinVolume {
		t.Errorf("sizeVolume() = %v, want clamped to MinVolume=%v", v, md.MinVolume)
	}
}
