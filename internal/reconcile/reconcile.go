// Package reconcile compares the local position set against the broker's
// and reports/heals divergence.
package reconcile

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/model"
)

// Tolerance for volume/entry-price divergence before a position is flagged
// mismatched rather than synced.
const (
	VolumeTolerance     = 1e-6
	EntryPriceTolerance = 1e-4
)

// Policy controls auto-heal behaviour, auto-remove local-only (default on with
// audit)").
type Policy struct {
	AutoAddMissing bool
	AutoRemoveOrphaned bool
}

// DefaultPolicy auto-heals both missing and orphaned positions.
var DefaultPolicy = Policy{AutoAddMissing: true, AutoRemoveOrphaned: true}

// Mismatch describes a position present in both sets but diverging beyond
// tolerance.
type Mismatch struct {
	Local  model.Position
	Broker model.Position
}

// Report is the output of one reconciliation pass. Positions present on both
// sides (matched by BrokerPositionID) are in Synced when within tolerance and
// in Mismatched otherwise; Orphaned holds local-only positions and Missing
// broker-only ones. Local positions with no broker id yet are in none of
// these and are carried into HealedLocal as pending.
type Report struct {
	Synced    []model.Position
	Orphaned  []model.Position // local-only
	Missing   []model.Position // broker-only
	Mismatched []Mismatch
	HealedLocal []model.Position // the local set after auto-heal, when enabled
}

// AuditEntry is one line of the reconciliation audit trail.
type AuditEntry struct {
	At   time.Time
	Kind string
	Detail string
}

// Reconcile compares local and broker position sets and produces a Report
// plus an audit trail. Positions are matched by BrokerPositionID; broker
// positions always carry one. Local positions without one (not yet confirmed
// by the broker) are not matched and are kept in HealedLocal unchanged.
func Reconcile(local, broker []model.Position, policy Policy, now time.Time, logger *logrus.Entry) (Report, []AuditEntry) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("subsystem", "reconcile")

	localByBroker := make(map[string]model.Position, len(local))
	for _, p := range local {
		if p.BrokerPositionID != "" {
			localByBroker[p.BrokerPositionID] = p
		}
	}
	brokerByID := make(map[string]model.Position, len(broker))
	for _, p := range broker {
		brokerByID[p.BrokerPositionID] = p
	}

	var report Report
	var audit []AuditEntry

	for _, lp := range local {
		if lp.BrokerPositionID == "" {
			// Not yet confirmed by the broker; neither orphan nor synced --
			// it is simply pending and excluded from this pass.
			report.HealedLocal = append(report.HealedLocal, lp)
			continue
		}
		bp, found := brokerByID[lp.BrokerPositionID]
		if !found {
			report.Orphaned = append(report.Orphaned, lp)
			if policy.AutoRemoveOrphaned {
				audit = append(audit, AuditEntry{At: now, Kind: "auto_remove_orphan", Detail: lp.BrokerPositionID})
				logger.WithField("broker_position_id", lp.BrokerPositionID).Warn("removing local-only orphan position")
				continue
			}
			report.HealedLocal = append(report.HealedLocal, lp)
			continue
		}
		if diverges(lp, bp) {
			report.Mismatched = append(report.Mismatched, Mismatch{Local: lp, Broker: bp})
			audit = append(audit, AuditEntry{At: now, Kind: "mismatch_flagged", Detail: lp.BrokerPositionID})
			logger.WithField("broker_position_id", lp.BrokerPositionID).Warn("local/broker position divergence beyond tolerance")
			report.HealedLocal = append(report.HealedLocal, lp)
			continue
		}
		report.Synced = append(report.Synced, lp)
		report.HealedLocal = append(report.HealedLocal, lp)
	}

	for _, bp := range broker {
		if _, found := localByBroker[bp.BrokerPositionID]; !found {
			report.Missing = append(report.Missing, bp)
			if policy.AutoAddMissing {
				audit = append(audit, AuditEntry{At: now, Kind: "auto_add_missing", Detail: bp.BrokerPositionID})
				logger.WithField("broker_position_id", bp.BrokerPositionID).Info("adding broker-only position to local set")
				report.HealedLocal = append(report.HealedLocal, bp)
			}
		}
	}

	return report, audit
}

func diverges(local, broker model.Position) bool {
	volDiff := local.Volume - broker.Volume
	if volDiff < 0 {
		volDiff = -volDiff
	}
	priceDiff := local.EntryPrice - broker.EntryPrice
	if priceDiff < 0 {
		priceDiff = -priceDiff
	}
	return volDiff > VolumeTolerance || priceDiff > EntryPriceTolerance
}
