/*
Logic:  Consumes NewFingerprintEvents off the error worker's bounded
        alert channel and evaluates new_issue rules against them.
        Firing is gated by a durable per-rule+fingerprint cooldown row
        in alert_cooldowns; on fire, the cooldown is stamped and a
        DispatchRequest is handed to the sink without waiting for
        delivery. Alert emission must never block the ingest
        pipeline: the evaluator never blocks sends back onto queues
        it does not own, and a sink that blocks inside Dispatch only
        ever stalls this goroutine, not the error worker.
*/

package alerts

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/errorpipeline"
	"github.com/lumenwatch/ingestd/store"
)

const upsertCooldownSQL = `
INSERT INTO alert_cooldowns (project_id, rule_id, fingerprint, last_fired_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT (project_id, rule_id, fingerprint) DO UPDATE SET last_fired_ms = excluded.last_fired_ms
`

const selectCooldownSQL = `
SELECT last_fired_ms FROM alert_cooldowns WHERE project_id = ? AND rule_id = ? AND fingerprint = ?
`

// Evaluator is the single long-running alert-evaluation task.
type Evaluator struct {
	events <-chan errorpipeline.NewFingerprintEvent
	store  *store.Store
	rules  []Rule
	sink   DispatchSink
	logger zerolog.Logger
}

// NewEvaluator constructs an Evaluator. rules is the static set of
// configured alert rules; rule CRUD and a dashboard to manage them
// are out of scope for this core.
func NewEvaluator(events <-chan errorpipeline.NewFingerprintEvent, st *store.Store, rules []Rule, sink DispatchSink, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		events: events,
		store:  st,
		rules:  rules,
		sink:   sink,
		logger: logger.With().Str("component", "alert-evaluator").Logger(),
	}
}

// Run consumes events until the channel is closed.
func (e *Evaluator) Run() {
	for ev := range e.events {
		e.evaluate(ev)
	}
}

func (e *Evaluator) evaluate(ev errorpipeline.NewFingerprintEvent) {
	now := store.NowMillis()
	for _, rule := range e.rules {
		if rule.Type != NewIssueRule {
			continue
		}
		if rule.ProjectID != "" && rule.ProjectID != ev.ProjectID {
			continue
		}
		if !rule.matches(ev.Event.Environment, ev.Event.Source) {
			continue
		}

		fired, err := e.tryFire(rule, ev, now)
		if err != nil {
			e.logger.Warn().Err(err).Str("rule_id", rule.ID).Str("fingerprint", ev.Fingerprint).
				Msg("cooldown check failed, skipping rule")
			continue
		}
		if fired {
			e.sink.Dispatch(DispatchRequest{
				ID:          uuid.NewString(),
				RuleID:      rule.ID,
				ProjectID:   ev.ProjectID,
				Fingerprint: ev.Fingerprint,
				ErrorType:   ev.Event.ErrorType,
				Message:     ev.Event.Message,
				Environment: ev.Event.Environment,
				Source:      ev.Event.Source,
				FiredAtMs:   now,
			})
		}
	}
}

// tryFire reports whether rule fired for this fingerprint: it reads
// the cooldown row and, if the rule is not in cooldown, stamps
// last_fired_ms with a second, separate statement. The read and the
// write are not in one transaction, so two concurrent evaluators could
// both fire within one cooldown window; this core runs a single
// evaluator goroutine.
func (e *Evaluator) tryFire(rule Rule, ev errorpipeline.NewFingerprintEvent, now int64) (bool, error) {
	ctx := context.Background()

	var lastFired int64
	err := e.store.DB.QueryRowContext(ctx, selectCooldownSQL, ev.ProjectID, rule.ID, ev.Fingerprint).Scan(&lastFired)
	if err != nil && err != sql.ErrNoRows {
		return false, err
	}
	if err == nil && now-lastFired < rule.Cooldown.Milliseconds() {
		return false, nil
	}

	if _, err := e.store.DB.ExecContext(ctx, upsertCooldownSQL, ev.ProjectID, rule.ID, ev.Fingerprint, now); err != nil {
		return false, err
	}
	return true, nil
}
