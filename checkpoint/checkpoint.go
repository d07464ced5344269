// File: checkpoint/checkpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package checkpoint persists per-customer read positions (log id -> LSN)
// in a versioned metadata store. All checkpoints of one customer live in a
// single JSON document, updated with a conditional read-modify-write.

package checkpoint

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
	"github.com/momentics/hioload-evloop/metastore"
	"github.com/momentics/hioload-evloop/tracing"
)

// LogID identifies a log.
type LogID uint64

// LSN is a log sequence number.
type LSN uint64

// Callback receives the outcome of an asynchronous update.
type Callback func(err error)

// ErrNoCheckpoint is returned when a customer has no checkpoint for a log.
var ErrNoCheckpoint = api.NewError(api.ErrCodeNotFound, "checkpoint: no checkpoint")

const keyPrefix = "checkpoint/"

const formatVersion = 1

type document struct {
	Version int            `json:"version"`
	LSNs    map[string]LSN `json:"lsns"`
}

// Store implements checkpoint persistence on an api.VersionedConfigStore.
type Store struct {
	vcs   api.VersionedConfigStore
	exec  api.Executor
	owned *concurrency.Executor
}

// Option configures a Store.
type Option func(*Store)

// WithExecutor runs asynchronous updates on exec instead of an own pool.
// A nil exec, including a nil *concurrency.Executor, keeps the own pool.
func WithExecutor(exec api.Executor) Option {
	return func(s *Store) {
		if e, ok := exec.(*concurrency.Executor); ok && e == nil {
			return
		}
		s.exec = exec
	}
}

// New creates a Store on vcs. The store does not close vcs.
func New(vcs api.VersionedConfigStore, opts ...Option) *Store {
	s := &Store{vcs: vcs}
	for _, opt := range opts {
		opt(s)
	}
	if s.exec == nil {
		s.owned = concurrency.NewExecutor("checkpoint", 2)
		s.exec = s.owned
	}
	return s
}

func key(customerID string) string { return keyPrefix + customerID }

func decode(raw []byte) (document, error) {
	doc := document{LSNs: make(map[string]LSN)}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return doc, api.NewError(api.ErrCodeInternal, "checkpoint: corrupt document").Wrap(err)
	}
	if doc.Version > formatVersion {
		return doc, api.NewError(api.ErrCodeNotSupported, "checkpoint: unknown document version").
			WithContext("version", doc.Version)
	}
	if doc.LSNs == nil {
		doc.LSNs = make(map[string]LSN)
	}
	return doc, nil
}

func encode(doc document) ([]byte, error) {
	doc.Version = formatVersion
	return json.Marshal(doc)
}

func logKey(id LogID) string { return strconv.FormatUint(uint64(id), 10) }

// UpdateLSNSync sets the checkpoint of one log.
func (s *Store) UpdateLSNSync(ctx context.Context, customerID string, logID LogID, lsn LSN) error {
	return s.UpdateLSNsSync(ctx, customerID, map[LogID]LSN{logID: lsn})
}

// UpdateLSNsSync sets the checkpoints of several logs in one write.
func (s *Store) UpdateLSNsSync(ctx context.Context, customerID string, lsns map[LogID]LSN) (err error) {
	ctx, sp := tracing.StartSpan(ctx, "checkpoint.update")
	sp.WithAttributes(map[string]string{"customer": customerID}).WithInt("logs", int64(len(lsns)))
	defer func() { tracing.EndSpan(sp, err) }()

	attempts := 0
	_, err = metastore.ReadModifyWriteSync(ctx, s.vcs, key(customerID), func(cur []byte, _ bool) ([]byte, error) {
		attempts++
		if attempts > 1 {
			sp.Event("retry")
		}
		doc, err := decode(cur)
		if err != nil {
			return nil, err
		}
		for id, lsn := range lsns {
			doc.LSNs[logKey(id)] = lsn
		}
		return encode(doc)
	})
	sp.WithInt("attempts", int64(attempts))
	return err
}

// UpdateLSN is the asynchronous form of UpdateLSNSync. cb runs on the
// calling event loop, or on a worker when called off a loop.
func (s *Store) UpdateLSN(customerID string, logID LogID, lsn LSN, cb Callback) {
	s.async(cb, func(ctx context.Context) error {
		return s.UpdateLSNSync(ctx, customerID, logID, lsn)
	})
}

// UpdateLSNs is the asynchronous form of UpdateLSNsSync.
func (s *Store) UpdateLSNs(customerID string, lsns map[LogID]LSN, cb Callback) {
	cp := make(map[LogID]LSN, len(lsns))
	for k, v := range lsns {
		cp[k] = v
	}
	s.async(cb, func(ctx context.Context) error {
		return s.UpdateLSNsSync(ctx, customerID, cp)
	})
}

func (s *Store) async(cb Callback, work func(ctx context.Context) error) {
	origin := concurrency.CaptureOrigin()
	complete := func(err error) {
		if cb != nil {
			origin.Run(func() { cb(err) })
		}
	}
	if err := s.exec.Submit(func() { complete(work(context.Background())) }); err != nil {
		complete(err)
	}
}

// GetLSNSync returns the checkpoint of one log or ErrNoCheckpoint.
func (s *Store) GetLSNSync(ctx context.Context, customerID string, logID LogID) (LSN, error) {
	all, err := s.GetAllSync(ctx, customerID)
	if err != nil {
		return 0, err
	}
	lsn, ok := all[logID]
	if !ok {
		return 0, api.NewError(api.ErrCodeNotFound, "checkpoint: no checkpoint").
			WithContext("customer", customerID).
			WithContext("log", uint64(logID))
	}
	return lsn, nil
}

// GetAllSync returns every checkpoint of a customer; empty when none exist.
func (s *Store) GetAllSync(ctx context.Context, customerID string) (_ map[LogID]LSN, err error) {
	ctx, sp := tracing.StartSpan(ctx, "checkpoint.get")
	sp.WithAttributes(map[string]string{"customer": customerID})
	defer func() { tracing.EndSpan(sp, err) }()

	raw, _, err := s.vcs.GetConfigSync(ctx, key(customerID))
	if api.CodeOf(err) == api.ErrCodeNotFound {
		return map[LogID]LSN{}, nil
	}
	if err != nil {
		return nil, err
	}
	doc, err := decode(raw)
	if err != nil {
		return nil, err
	}
	out := make(map[LogID]LSN, len(doc.LSNs))
	for k, v := range doc.LSNs {
		id, perr := strconv.ParseUint(k, 10, 64)
		if perr != nil {
			return nil, api.NewError(api.ErrCodeInternal, fmt.Sprintf("checkpoint: bad log id %q", k)).Wrap(perr)
		}
		out[LogID(id)] = v
	}
	return out, nil
}

// RemoveCheckpointsSync removes the given logs' checkpoints, or all of the
// customer's checkpoints when no log is named.
func (s *Store) RemoveCheckpointsSync(ctx context.Context, customerID string, logIDs ...LogID) (err error) {
	ctx, sp := tracing.StartSpan(ctx, "checkpoint.remove")
	sp.WithAttributes(map[string]string{"customer": customerID}).WithInt("logs", int64(len(logIDs)))
	defer func() { tracing.EndSpan(sp, err) }()

	if len(logIDs) == 0 {
		return s.vcs.DeleteConfigSync(ctx, key(customerID))
	}
	_, err = metastore.ReadModifyWriteSync(ctx, s.vcs, key(customerID), func(cur []byte, _ bool) ([]byte, error) {
		doc, err := decode(cur)
		if err != nil {
			return nil, err
		}
		for _, id := range logIDs {
			delete(doc.LSNs, logKey(id))
		}
		return encode(doc)
	})
	return err
}

// RemoveCheckpoints is the asynchronous form of RemoveCheckpointsSync.
func (s *Store) RemoveCheckpoints(customerID string, logIDs []LogID, cb Callback) {
	ids := append([]LogID(nil), logIDs...)
	s.async(cb, func(ctx context.Context) error {
		return s.RemoveCheckpointsSync(ctx, customerID, ids...)
	})
}

// Close waits for pending asynchronous updates.
func (s *Store) Close() error {
	if s.owned != nil {
		s.owned.Close()
	}
	return nil
}
