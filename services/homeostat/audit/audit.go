// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit provides the homeostat's append-only decision trail.
//
// # Description
//
// Every terminal decision the control loop makes (archive, promotion,
// escalation, graduation, tournament outcome, breaker latch, override)
// is recorded as one JSON line in a dedicated audit file. Records form
// a hash chain: each entry carries the hash of the previous entry, so
// any rewrite of history breaks verification. The trail is the sole
// mechanism for post-hoc explainability; it is written once and never
// rewritten.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the previous-hash value of the first record in a fresh
// chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// trailFileMode restricts the audit file to owner read/write. The trail
// records what was changed on the tuned service and why; other system
// users have no business reading it.
const trailFileMode = 0600

// activeFileName is the segment currently being appended to. Rotated
// segments get a timestamp suffix and sort before it lexicographically.
const activeFileName = "audit.jsonl"

// Event types recorded by the control loop.
const (
	EventIntentEnqueued = "intent_enqueued"
	EventIntentArchived = "intent_archived"
	EventCanaryStarted  = "canary_started"
	EventCanaryFinished = "canary_finished"
	EventPromotion      = "promotion"
	EventEscalation     = "escalation"
	EventGraduation     = "graduation"
	EventTournament     = "tournament"
	EventZooidSpawned   = "zooid_spawned"
	EventZooidMoved     = "zooid_transition"
	EventBreakerLatched = "breaker_latched"
	EventBreakerCleared = "breaker_cleared"
	EventBudgetOverride = "budget_override"
	EventLockForced     = "lock_force_released"
)

// Event is one audit record. Sequence, PrevHash and EntryHash are
// assigned by Append; callers fill the rest.
type Event struct {
	Sequence      int64              `json:"sequence"`
	Timestamp     string             `json:"timestamp"`
	EventType     string             `json:"event_type"`
	IntentID      string             `json:"intent_id,omitempty"`
	Subsystem     string             `json:"subsystem,omitempty"`
	CandidateHash string             `json:"candidate_hash,omitempty"`
	Params        map[string]float64 `json:"params,omitempty"`
	ZooidID       string             `json:"zooid_id,omitempty"`
	FromState     string             `json:"from_state,omitempty"`
	ToState       string             `json:"to_state,omitempty"`
	BudgetUsed    float64            `json:"budget_used,omitempty"`
	Outcome       string             `json:"outcome,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Actor         string             `json:"actor,omitempty"`
	PrevHash      string             `json:"prev_hash"`
	EntryHash     string             `json:"entry_hash"`
}

// Config configures a Trail.
type Config struct {
	// Dir is the directory holding audit segments. Created if missing.
	Dir string

	// RotateBytes rotates the active segment once it grows past this
	// size. 0 disables rotation.
	RotateBytes int64

	// Uploader, when set, receives rotated segments for off-host
	// retention. Uploads are best effort and never block Append.
	Uploader *Uploader

	// Logger for trail operations. Default: slog.Default().
	Logger *slog.Logger
}

// Trail is the append-only audit log.
//
// # Hash Chain
//
// Each record's EntryHash covers all of its fields including the
// previous record's EntryHash. A segment that continues a rotated chain
// starts from the prior segment's final hash, not the genesis hash;
// VerifyDir checks the whole chain across segments.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Appends are serialized.
type Trail struct {
	dir         string
	rotateBytes int64
	uploader    *Uploader
	logger      *slog.Logger

	mu       sync.Mutex
	file     *os.File
	size     int64
	sequence int64
	prevHash string

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped int64
}

// New opens (or continues) the audit trail in cfg.Dir.
//
// # Description
//
// Opens the active segment in append mode and restores the chain state
// (sequence number, previous hash) from its last record, so the chain
// continues seamlessly across restarts.
//
// # Inputs
//
//   - cfg: Trail configuration. Dir is required.
//
// # Outputs
//
//   - *Trail: Ready to use. Caller must Close() on shutdown.
//   - error: Non-nil if the directory or file cannot be prepared.
func New(cfg Config) (*Trail, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit dir must not be empty")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", cfg.Dir, err)
	}

	path := filepath.Join(cfg.Dir, activeFileName)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, trailFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	t := &Trail{
		dir:         cfg.Dir,
		rotateBytes: cfg.RotateBytes,
		uploader:    cfg.Uploader,
		logger:      cfg.Logger.With(slog.String("component", "audit")),
		file:        file,
		prevHash:    GenesisHash,
		subs:        make(map[int]chan Event),
	}

	if err := t.restoreChainState(path); err != nil {
		file.Close()
		return nil, fmt.Errorf("restore chain state: %w", err)
	}

	t.logger.Info("audit trail opened",
		slog.String("path", path),
		slog.Int64("sequence", t.sequence))

	return t, nil
}

// restoreChainState reads the active segment to find the last sequence
// number, previous hash, and current size.
func (t *Trail) restoreChainState(path string) error {
	info, err := t.file.Stat()
	if err != nil {
		return err
	}
	t.size = info.Size()

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var last Event
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Sequence > 0 {
			last = e
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if last.Sequence > 0 {
		t.sequence = last.Sequence
		t.prevHash = last.EntryHash
	}
	return nil
}

// Append links an event into the chain and writes it durably.
//
// # Description
//
// Assigns the next sequence number, stamps the event, links it to the
// previous record, hashes it, and writes one JSON line. Subscribers are
// notified after the write; a slow subscriber drops events rather than
// blocking the control loop.
//
// # Inputs
//
//   - e: Event with EventType and decision fields set. Timestamp is
//     auto-set when empty.
//
// # Outputs
//
//   - Event: The completed record as written.
//   - error: Non-nil if marshalling or the write fails.
func (t *Trail) Append(e Event) (Event, error) {
	t.mu.Lock()

	t.sequence++
	e.Sequence = t.sequence
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	e.PrevHash = t.prevHash
	e.EntryHash = computeEventHash(e)

	data, err := json.Marshal(e)
	if err != nil {
		t.sequence--
		t.mu.Unlock()
		return Event{}, fmt.Errorf("marshal audit event: %w", err)
	}

	n, err := t.file.Write(append(data, '\n'))
	if err != nil {
		t.sequence--
		t.mu.Unlock()
		return Event{}, fmt.Errorf("write audit event: %w", err)
	}

	t.size += int64(n)
	t.prevHash = e.EntryHash

	if t.rotateBytes > 0 && t.size >= t.rotateBytes {
		if err := t.rotateLocked(); err != nil {
			t.logger.Warn("audit rotation failed", slog.String("error", err.Error()))
		}
	}
	t.mu.Unlock()

	t.publish(e)

	t.logger.Debug("audit event appended",
		slog.Int64("sequence", e.Sequence),
		slog.String("event_type", e.EventType),
		slog.String("outcome", e.Outcome))

	return e, nil
}

// rotateLocked closes the active segment, renames it with a timestamp
// suffix, and opens a fresh one. The in-memory chain state carries over,
// so the first record of the new segment links to the last record of the
// old one. Caller holds t.mu.
func (t *Trail) rotateLocked() error {
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("close active segment: %w", err)
	}

	active := filepath.Join(t.dir, activeFileName)
	stamp := time.Now().UTC().Format("20060102T150405")
	rotated := filepath.Join(t.dir, fmt.Sprintf("audit-%s-%d.jsonl", stamp, t.sequence))

	if err := os.Rename(active, rotated); err != nil {
		// Reopen the old segment so appends keep working.
		file, openErr := os.OpenFile(active, os.O_APPEND|os.O_CREATE|os.O_WRONLY, trailFileMode)
		if openErr != nil {
			return fmt.Errorf("rename failed (%v) and reopen failed: %w", err, openErr)
		}
		t.file = file
		return fmt.Errorf("rename segment: %w", err)
	}

	file, err := os.OpenFile(active, os.O_APPEND|os.O_CREATE|os.O_WRONLY, trailFileMode)
	if err != nil {
		return fmt.Errorf("open fresh segment: %w", err)
	}
	t.file = file
	t.size = 0

	t.logger.Info("audit segment rotated",
		slog.String("segment", rotated),
		slog.Int64("sequence", t.sequence))

	if t.uploader != nil {
		go t.uploader.UploadSegment(rotated, t.logger)
	}
	return nil
}

// VerifyChain verifies the active segment's hash chain.
//
// # Outputs
//
//   - valid: True if every link and entry hash checks out.
//   - breakIndex: Index of the first broken record (-1 if valid).
//   - error: Non-nil if the file cannot be read.
//
// A segment that begins mid-chain (after rotation) is verified from its
// first record's PrevHash. Use VerifyDir for the full chain.
func (t *Trail) VerifyChain() (valid bool, breakIndex int64, err error) {
	return verifyFile(filepath.Join(t.dir, activeFileName), "")
}

// VerifyReport summarizes a chain verification across segments.
type VerifyReport struct {
	// Valid is true if the chain is intact from genesis to the last
	// record.
	Valid bool

	// Entries counts the records verified before the first break.
	Entries int64

	// Head is the hash of the last verified record ("" for an empty
	// chain).
	Head string

	// Segment is the file containing the first break ("" if valid).
	Segment string

	// BreakIndex is the record index within that segment (-1 if valid).
	BreakIndex int64
}

// VerifyDir verifies the whole chain across rotated segments in order.
func VerifyDir(dir string) (*VerifyReport, error) {
	names, err := filepath.Glob(filepath.Join(dir, "audit*.jsonl"))
	if err != nil {
		return nil, err
	}
	// Rotated segments carry timestamps and sort before the active
	// segment; lexicographic order is chain order.
	sort.Strings(names)

	report := &VerifyReport{Valid: true, BreakIndex: -1}
	expect := GenesisHash
	for _, name := range names {
		ok, idx, count, last, verr := verifySegment(name, expect)
		report.Entries += count
		if verr != nil {
			return nil, fmt.Errorf("segment %s: %w", name, verr)
		}
		if !ok {
			report.Valid = false
			report.Segment = name
			report.BreakIndex = idx
			return report, nil
		}
		if last != "" {
			expect = last
			report.Head = last
		}
	}
	return report, nil
}

// verifyFile verifies one segment. An empty startHash accepts whatever
// the first record links to.
func verifyFile(path, startHash string) (bool, int64, error) {
	ok, idx, _, _, err := verifySegment(path, startHash)
	return ok, idx, err
}

func verifySegment(path, startHash string) (valid bool, breakIndex, count int64, lastHash string, err error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, -1, 0, "", nil
		}
		return false, -1, 0, "", fmt.Errorf("open segment: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	prev := startHash
	var index int64

	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Sequence == 0 {
			continue
		}

		if prev == "" {
			// Mid-chain segment with unknown start: trust the first link.
			prev = e.PrevHash
		}
		if e.PrevHash != prev {
			return false, index, index, "", nil
		}
		if computeEventHash(e) != e.EntryHash {
			return false, index, index, "", nil
		}
		prev = e.EntryHash
		lastHash = e.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, index, "", fmt.Errorf("read segment: %w", err)
	}
	return true, -1, index, lastHash, nil
}

// Tail returns the most recent n records from the active segment,
// oldest first.
func (t *Trail) Tail(n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	file, err := os.Open(filepath.Join(t.dir, activeFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.Sequence == 0 {
			continue
		}
		events = append(events, e)
		if len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit file: %w", err)
	}
	return events, nil
}

// EntryCount returns the number of records ever appended to the chain.
// Sequence numbers are global across rotated segments.
func (t *Trail) EntryCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sequence
}

// Size returns the active segment's size in bytes.
func (t *Trail) Size() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return 0, fmt.Errorf("audit file is not open")
	}
	return t.size, nil
}

// Subscribe registers a live event feed. The returned cancel function
// must be called to release the subscription. Events overflowing the
// buffer are dropped, never blocking the writer.
func (t *Trail) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	t.subMu.Lock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan Event, buffer)
	t.subs[id] = ch
	t.subMu.Unlock()

	cancel := func() {
		t.subMu.Lock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
		t.subMu.Unlock()
	}
	return ch, cancel
}

func (t *Trail) publish(e Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- e:
		default:
			t.dropped++
		}
	}
}

// Close closes the active segment. Subscriptions are closed too.
func (t *Trail) Close() error {
	t.subMu.Lock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
	t.subMu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		if err != nil {
			return fmt.Errorf("close audit file: %w", err)
		}
	}
	return nil
}

// computeEventHash hashes an event's fields (excluding EntryHash) in a
// stable order for chain linking.
func computeEventHash(e Event) string {
	data := strings.Join([]string{
		strconv.FormatInt(e.Sequence, 10),
		e.Timestamp,
		e.EventType,
		e.IntentID,
		e.Subsystem,
		e.CandidateHash,
		canonicalParams(e.Params),
		e.ZooidID,
		e.FromState,
		e.ToState,
		strconv.FormatFloat(e.BudgetUsed, 'g', -1, 64),
		e.Outcome,
		e.Reason,
		e.Actor,
		e.PrevHash,
	}, "|")

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// canonicalParams renders a params map as sorted k=v pairs so the hash
// is independent of map iteration order.
func canonicalParams(params map[string]float64) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(params[k], 'g', -1, 64))
	}
	return b.String()
}
