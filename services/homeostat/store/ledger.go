// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// BudgetDate formats t as a ledger date key (YYYYMMDD). Days roll over in
// t's location; the caller decides the timezone.
func BudgetDate(t time.Time) string {
	return t.Format("20060102")
}

func budgetKey(date string) []byte {
	return []byte(keyBudget + date)
}

// ConsumeBudget atomically charges seconds against a day's downtime budget.
//
// Description:
//
//	Reads the day's usage, and either commits usage+seconds or fails with
//	ErrBudgetExceeded leaving the ledger untouched. There is no partial
//	deduction. Usage within a day only grows; a new date key is an
//	implicit reset.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	date - Ledger day, from BudgetDate().
//	seconds - Charge amount. Must be non-negative.
//	cap - The day's total allowance in seconds.
//
// Outputs:
//
//	float64 - Seconds used after the call (unchanged on failure).
//	error - ErrBudgetExceeded when the charge would cross the cap.
//
// Thread Safety: Safe under concurrent callers; conflicting charges
// retry and never double-spend.
func (s *Store) ConsumeBudget(ctx context.Context, date string, seconds, cap float64) (float64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("charge must be non-negative, got %v", seconds)
	}

	var used float64
	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		cur, err := getFloat64(txn, budgetKey(date))
		if err != nil {
			return err
		}
		used = cur
		if cur+seconds > cap {
			return fmt.Errorf("%w: %.1fs used of %.1fs, charge %.1fs", ErrBudgetExceeded, cur, cap, seconds)
		}
		used = cur + seconds
		return txn.Set(budgetKey(date), encodeFloat64(used))
	})
	if err != nil {
		return used, err
	}

	s.logger.Debug("budget consumed",
		slog.String("date", date),
		slog.Float64("seconds", seconds),
		slog.Float64("used", used))
	return used, nil
}

// BudgetConsumed returns the seconds used on a day, 0 when the day has
// no ledger entry yet.
func (s *Store) BudgetConsumed(ctx context.Context, date string) (float64, error) {
	var used float64
	err := s.view(ctx, func(txn *dgbadger.Txn) error {
		v, err := getFloat64(txn, budgetKey(date))
		if err != nil {
			return err
		}
		used = v
		return nil
	})
	return used, err
}

// CreditBudget is the emergency override: it subtracts seconds from a
// day's usage, clamped at zero. Normal operation never calls this; every
// use is logged at warning level.
func (s *Store) CreditBudget(ctx context.Context, date string, seconds float64) (float64, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("credit must be non-negative, got %v", seconds)
	}

	var used float64
	err := s.update(ctx, func(txn *dgbadger.Txn) error {
		cur, err := getFloat64(txn, budgetKey(date))
		if err != nil {
			return err
		}
		used = math.Max(0, cur-seconds)
		return txn.Set(budgetKey(date), encodeFloat64(used))
	})
	if err != nil {
		return used, err
	}

	s.logger.Warn("budget credited by override",
		slog.String("date", date),
		slog.Float64("seconds", seconds),
		slog.Float64("used", used))
	return used, nil
}

func encodeFloat64(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

func getFloat64(txn *dgbadger.Txn, key []byte) (float64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v float64
	err = item.Value(func(val []byte) error {
		if len(val) >= 8 {
			v = math.Float64frombits(binary.BigEndian.Uint64(val))
		}
		return nil
	})
	return v, err
}
