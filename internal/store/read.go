package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/satisfy/internal/ir"
)

// Results are ordered by seq, the order in which the engine delivered them.
// An empty ruleID selects every rule. Every Read returns an empty slice
// (not nil) when nothing matches.

// ReadRegistrations returns recorded registrations.
func (s *Store) ReadRegistrations(ctx context.Context, ruleID string) ([]ir.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_json, rule_hash, generation, registered_at
		FROM registrations
		WHERE ? = '' OR rule_id = ?
		ORDER BY seq ASC
	`, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query registrations: %w", err)
	}
	defer rows.Close()

	regs := []ir.Registration{}
	for rows.Next() {
		var (
			reg      ir.Registration
			ruleJSON string
			at       int64
		)
		if err := rows.Scan(&reg.ID, &ruleJSON, &reg.RuleHash, &reg.Generation, &at); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		if reg.Rule, err = unmarshalRule(ruleJSON); err != nil {
			return nil, fmt.Errorf("registration %s: %w", reg.ID, err)
		}
		reg.At = fromMillis(at)
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrations: %w", err)
	}

	return regs, nil
}

// ReadDisposals returns recorded disposals.
func (s *Store) ReadDisposals(ctx context.Context, ruleID string) ([]ir.Disposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT registration_id, rule_id, reason, generation, disposed_at
		FROM disposals
		WHERE ? = '' OR rule_id = ?
		ORDER BY seq ASC
	`, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query disposals: %w", err)
	}
	defer rows.Close()

	out := []ir.Disposal{}
	for rows.Next() {
		var (
			d      ir.Disposal
			reason string
			at     int64
		)
		if err := rows.Scan(&d.RegistrationID, &d.RuleID, &reason, &d.Generation, &at); err != nil {
			return nil, fmt.Errorf("scan disposal: %w", err)
		}
		d.Reason = ir.DisposalReason(reason)
		d.At = fromMillis(at)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate disposals: %w", err)
	}

	return out, nil
}

// ReadSatisfactions returns recorded satisfactions, each with the full rule
// of the registration that produced it.
func (s *Store) ReadSatisfactions(ctx context.Context, ruleID string) ([]ir.Satisfaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.registration_id, r.rule_json, s.generation, s.satisfied_at
		FROM satisfactions s
		JOIN registrations r ON s.registration_id = r.id
		WHERE ? = '' OR s.rule_id = ?
		ORDER BY s.seq ASC
	`, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query satisfactions: %w", err)
	}
	defer rows.Close()

	out := []ir.Satisfaction{}
	for rows.Next() {
		var (
			sat      ir.Satisfaction
			ruleJSON string
			at       int64
		)
		if err := rows.Scan(&sat.RegistrationID, &ruleJSON, &sat.Generation, &at); err != nil {
			return nil, fmt.Errorf("scan satisfaction: %w", err)
		}
		if sat.Rule, err = unmarshalRule(ruleJSON); err != nil {
			return nil, fmt.Errorf("satisfaction %s: %w", sat.RegistrationID, err)
		}
		sat.SatisfiedAt = fromMillis(at)
		out = append(out, sat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate satisfactions: %w", err)
	}

	return out, nil
}

// EntryKind names the kind of a timeline entry.
type EntryKind string

const (
	EntryRegistered EntryKind = "registered"
	EntryDisposed   EntryKind = "disposed"
	EntrySatisfied  EntryKind = "satisfied"
)

// Entry is one line of the journal timeline.
type Entry struct {
	Seq            int64            `json:"seq"`
	Kind           EntryKind        `json:"kind"`
	RuleID         string           `json:"rule_id"`
	RegistrationID string           `json:"registration_id"`
	Generation     int64            `json:"generation"`
	At             int64            `json:"at"`
	Reason         ir.DisposalReason `json:"reason,omitempty"`
}

// ReadTimeline returns every journal entry in seq order.
func (s *Store) ReadTimeline(ctx context.Context, ruleID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, kind, rule_id, registration_id, generation, at, reason FROM (
			SELECT seq, 'registered' AS kind, rule_id, id AS registration_id, generation, registered_at AS at, NULL AS reason
			FROM registrations
			UNION ALL
			SELECT seq, 'disposed', rule_id, registration_id, generation, disposed_at, reason
			FROM disposals
			UNION ALL
			SELECT seq, 'satisfied', rule_id, registration_id, generation, satisfied_at, NULL
			FROM satisfactions
		)
		WHERE ? = '' OR rule_id = ?
		ORDER BY seq ASC
	`, ruleID, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e      Entry
			kind   string
			reason sql.NullString
		)
		if err := rows.Scan(&e.Seq, &kind, &e.RuleID, &e.RegistrationID, &e.Generation, &e.At, &reason); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		e.Kind = EntryKind(kind)
		e.Reason = ir.DisposalReason(reason.String)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timeline: %w", err)
	}

	return out, nil
}
