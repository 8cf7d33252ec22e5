package engine

import (
	"strconv"

	"remedyd/internal/ruleexpr"
	"remedyd/pkg/models"
)

// alertTypeField is the pseudo-field trigger expressions use to match on
// active alert types. It resolves against the snapshot's alert list instead
// of the KPI/fact maps.
const alertTypeField = "alert_type"

// Evaluate checks a compiled trigger program against the snapshot history
// (ordered oldest to newest) and, on a match, captures the trigger payload.
//
// Pure and deterministic: same program and history always yield the same
// result, no I/O, and neither input is mutated. Unknown or wrong-typed fields
// make the referencing clause fail closed rather than erroring.
func Evaluate(prog *ruleexpr.Program, history []models.SignalSnapshot) (bool, models.TriggerData) {
	if prog == nil || len(history) == 0 {
		return false, models.TriggerData{}
	}
	latest := &history[len(history)-1]

	fields := make(map[string]string, len(prog.Clauses))
	for _, clause := range prog.Clauses {
		if !evaluateClause(clause, history, latest, fields) {
			return false, models.TriggerData{}
		}
	}

	return true, models.TriggerData{
		Expression: prog.Source,
		Fields:     fields,
		ObservedAt: latest.At,
	}
}

func evaluateClause(clause ruleexpr.Clause, history []models.SignalSnapshot, latest *models.SignalSnapshot, fields map[string]string) bool {
	switch clause.Kind {
	case ruleexpr.KindNumeric:
		return evaluateNumeric(clause, history, latest, fields)
	case ruleexpr.KindText:
		if clause.Field == alertTypeField {
			return evaluateAlertType(clause, latest, fields)
		}
		value, ok := latest.Text(clause.Field)
		if !ok {
			return false
		}
		var matched bool
		switch clause.Op {
		case ruleexpr.OpEQ:
			matched = value == clause.Text
		case ruleexpr.OpNEQ:
			matched = value != clause.Text
		}
		if matched {
			fields[clause.Field] = value
		}
		return matched
	case ruleexpr.KindMembership:
		if clause.Field == alertTypeField {
			return evaluateAlertType(clause, latest, fields)
		}
		value, ok := latest.Text(clause.Field)
		if !ok {
			return false
		}
		for _, member := range clause.Set {
			if value == member {
				fields[clause.Field] = value
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateNumeric(clause ruleexpr.Clause, history []models.SignalSnapshot, latest *models.SignalSnapshot, fields map[string]string) bool {
	value, ok := latest.Numeric(clause.Field)
	if !ok {
		return false
	}
	if !clause.Op.Compare(value, clause.Threshold) {
		return false
	}

	if clause.Sustain > 0 {
		// Walk backwards through the consecutive run of snapshots where the
		// comparison held; the condition is sustained when that run spans at
		// least the required duration.
		held := history[len(history)-1].At
		start := held
		for i := len(history) - 1; i >= 0; i-- {
			v, ok := history[i].Numeric(clause.Field)
			if !ok || !clause.Op.Compare(v, clause.Threshold) {
				break
			}
			start = history[i].At
		}
		if held.Sub(start) < clause.Sustain {
			return false
		}
	}

	fields[clause.Field] = strconv.FormatFloat(value, 'f', -1, 64)
	return true
}

// evaluateAlertType matches unacknowledged active alerts by type and captures
// the matching alert's ID so downstream actions (ack_alert) can target it.
func evaluateAlertType(clause ruleexpr.Clause, latest *models.SignalSnapshot, fields map[string]string) bool {
	want := func(alertType string) bool {
		switch clause.Kind {
		case ruleexpr.KindText:
			// Only equality is meaningful against a list of alerts.
			return clause.Op == ruleexpr.OpEQ && alertType == clause.Text
		case ruleexpr.KindMembership:
			for _, member := range clause.Set {
				if alertType == member {
					return true
				}
			}
		}
		return false
	}

	for _, alert := range latest.Alerts {
		if alert.Acknowledged {
			continue
		}
		if want(alert.Type) {
			fields[alertTypeField] = alert.Type
			fields["alert_id"] = alert.ID
			return true
		}
	}
	return false
}
