package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/tracking"
)

// DefaultListLimit caps list queries that pass no limit.
const DefaultListLimit = 500

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func fromUnixSeconds(s float64) time.Time {
	whole, frac := math.Modf(s)
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC()
}

// RecordTransition journals one state transition.
func (db *DB) RecordTransition(ctx context.Context, t pickplace.Transition) error {
	var tx, ty, tz, qx, qy, qz, qw sql.NullFloat64
	if t.Target != nil {
		p, q := t.Target.Position, t.Target.Orientation
		tx, ty, tz = nullFloat(p.X), nullFloat(p.Y), nullFloat(p.Z)
		qx, qy, qz, qw = nullFloat(q.Imag), nullFloat(q.Jmag), nullFloat(q.Kmag), nullFloat(q.Real)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO transitions (
			session_id, cycle, from_state, to_state, event,
			target_x, target_y, target_z, target_qx, target_qy, target_qz, target_qw,
			fraction, error, at_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Cycle, t.From.String(), t.To.String(), t.Event,
		tx, ty, tz, qx, qy, qz, qw,
		t.Fraction, t.Err, unixSeconds(t.At),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// TransitionFilter narrows ListTransitions. Zero fields match everything.
type TransitionFilter struct {
	SessionID string
	Limit     int
}

// ListTransitions returns the most recent transitions, newest first.
func (db *DB) ListTransitions(ctx context.Context, f TransitionFilter) ([]pickplace.Transition, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, cycle, from_state, to_state, event,
			target_x, target_y, target_z, target_qx, target_qy, target_qz, target_qw,
			fraction, error, at_unix
		FROM transitions
		WHERE (? = '' OR session_id = ?)
		ORDER BY transition_id DESC
		LIMIT ?`, f.SessionID, f.SessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []pickplace.Transition
	for rows.Next() {
		var (
			t              pickplace.Transition
			from, to       string
			tx, ty, tz     sql.NullFloat64
			qx, qy, qz, qw sql.NullFloat64
			atUnix         float64
		)
		if err := rows.Scan(&t.SessionID, &t.Cycle, &from, &to, &t.Event,
			&tx, &ty, &tz, &qx, &qy, &qz, &qw,
			&t.Fraction, &t.Err, &atUnix); err != nil {
			return nil, err
		}
		if t.From, err = pickplace.ParseState(from); err != nil {
			return nil, err
		}
		if t.To, err = pickplace.ParseState(to); err != nil {
			return nil, err
		}
		if tx.Valid && ty.Valid && tz.Valid {
			p := geom.Pose{
				Position:    r3.Vec{X: tx.Float64, Y: ty.Float64, Z: tz.Float64},
				Orientation: quat.Number{Real: qw.Float64, Imag: qx.Float64, Jmag: qy.Float64, Kmag: qz.Float64},
			}
			t.Target = &p
		}
		t.At = fromUnixSeconds(atUnix)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecordTrackedPose stores one accepted observation. It satisfies
// tracking.Recorder.
func (db *DB) RecordTrackedPose(ctx context.Context, s tracking.Sample) error {
	var stamp sql.NullFloat64
	if !s.Stamp.IsZero() {
		stamp = nullFloat(unixSeconds(s.Stamp))
	}
	p, q := s.Pose.Position, s.Pose.Orientation
	_, err := db.ExecContext(ctx, `
		INSERT INTO tracked_poses (
			source_frame, x, y, z, qx, qy, qz, qw, orientation, stamp_unix, received_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.SourceFrame, p.X, p.Y, p.Z, q.Imag, q.Jmag, q.Kmag, q.Real, s.Orientation,
		stamp, unixSeconds(s.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("insert tracked pose: %w", err)
	}
	return nil
}

// ListTrackedPoses returns poses received at or after since, oldest first.
func (db *DB) ListTrackedPoses(ctx context.Context, since time.Time, limit int) ([]tracking.Sample, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	var sinceUnix float64
	if !since.IsZero() {
		sinceUnix = unixSeconds(since)
	}
	// newest rows within the limit, returned in arrival order
	rows, err := db.QueryContext(ctx, `
		SELECT source_frame, x, y, z, qx, qy, qz, qw, orientation, stamp_unix, received_unix
		FROM (
			SELECT * FROM tracked_poses
			WHERE received_unix >= ?
			ORDER BY pose_id DESC
			LIMIT ?
		)
		ORDER BY pose_id ASC`, sinceUnix, limit)
	if err != nil {
		return nil, fmt.Errorf("query tracked poses: %w", err)
	}
	defer rows.Close()

	var out []tracking.Sample
	for rows.Next() {
		var (
			s              tracking.Sample
			x, y, z        float64
			qx, qy, qz, qw float64
			stamp          sql.NullFloat64
			received       float64
		)
		if err := rows.Scan(&s.SourceFrame, &x, &y, &z, &qx, &qy, &qz, &qw, &s.Orientation, &stamp, &received); err != nil {
			return nil, err
		}
		s.Pose = geom.Pose{
			Position:    r3.Vec{X: x, Y: y, Z: z},
			Orientation: quat.Number{Real: qw, Imag: qx, Jmag: qy, Kmag: qz},
		}
		if stamp.Valid {
			s.Stamp = fromUnixSeconds(stamp.Float64)
		}
		s.ReceivedAt = fromUnixSeconds(received)
		out = append(out, s)
	}
	return out, rows.Err()
}

var (
	_ pickplace.Journal = (*DB)(nil)
	_ tracking.Recorder = (*DB)(nil)
)
