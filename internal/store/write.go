package store

import (
	"context"
	"fmt"

	"github.com/roach88/satisfy/internal/ir"
)

// RecordRegistration appends a registration.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: writing the same
// registration twice is silently ignored.
func (s *Store) RecordRegistration(ctx context.Context, reg ir.Registration) error {
	ruleJSON, err := marshalRule(reg.Rule)
	if err != nil {
		return fmt.Errorf("record registration: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO registrations
		(id, rule_id, rule_hash, rule_json, generation, seq, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		reg.ID,
		reg.Rule.ID,
		reg.RuleHash,
		ruleJSON,
		reg.Generation,
		s.seq.Next(),
		toMillis(reg.At),
	)
	if err != nil {
		return fmt.Errorf("record registration: %w", err)
	}

	return nil
}

// RecordDisposal appends the end of a registration. A registration ends at
// most once; later writes for the same registration are ignored.
//
// Note: the registration must already be recorded (foreign key constraint).
func (s *Store) RecordDisposal(ctx context.Context, d ir.Disposal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO disposals
		(registration_id, rule_id, reason, generation, seq, disposed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(registration_id) DO NOTHING
	`,
		d.RegistrationID,
		d.RuleID,
		string(d.Reason),
		d.Generation,
		s.seq.Next(),
		toMillis(d.At),
	)
	if err != nil {
		return fmt.Errorf("record disposal: %w", err)
	}

	return nil
}

// RecordSatisfaction appends a delivered satisfaction. A registration is
// satisfied at most once; later writes for it are ignored.
//
// Note: the registration must already be recorded (foreign key constraint).
func (s *Store) RecordSatisfaction(ctx context.Context, sat ir.Satisfaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO satisfactions
		(registration_id, rule_id, generation, seq, satisfied_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(registration_id) DO NOTHING
	`,
		sat.RegistrationID,
		sat.Rule.ID,
		sat.Generation,
		s.seq.Next(),
		toMillis(sat.SatisfiedAt),
	)
	if err != nil {
		return fmt.Errorf("record satisfaction: %w", err)
	}

	return nil
}
