// Package utxostore tracks which unspent outputs are claimed by in-flight
// transactions so that concurrent builds never select the same input.
package utxostore

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/fileutil"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

const (
	// FileName is the name of the reservation file inside the wallet home.
	FileName = "utxos.json"

	// currentVersion is the current file format version.
	currentVersion = 1

	// filePermissions for utxos.json
	filePermissions = 0o600

	// DefaultReservationTTL bounds how long a claim survives without being
	// released or committed, e.g. after a crash between build and publish.
	DefaultReservationTTL = 30 * time.Minute
)

// State is the lifecycle state of a tracked output.
type State string

// Output states.
const (
	StateReserved State = "reserved"
	StateSpent    State = "spent"
)

// Entry is one tracked outpoint.
type Entry struct {
	Currency  string    `json:"currency"`
	TxID      string    `json:"txid"`
	Vout      uint32    `json:"vout"`
	Amount    uint64    `json:"amount"` // satoshis
	Address   string    `json:"address"`
	State     State     `json:"state"`
	Owner     string    `json:"owner,omitempty"`      // identifier of the claiming candidate
	SpentTxID string    `json:"spent_txid,omitempty"` // txid that spent this output
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the unique identifier for this entry (currency:txid:vout).
func (e *Entry) Key() string {
	return entryKey(e.Currency, e.TxID, e.Vout)
}

func entryKey(currency, txid string, vout uint32) string {
	return fmt.Sprintf("%s:%s:%d", currency, txid, vout)
}

// File represents the JSON file structure (versioned).
type File struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   map[string]*Entry `json:"entries"` // key: currency:txid:vout
}

// LogWriter receives persistence failures that have no caller to return to.
type LogWriter interface {
	Error(format string, args ...any)
}

// Store manages outpoint claims for one wallet. A Store with an empty path
// keeps its state in memory only.
type Store struct {
	path   string
	ttl    time.Duration
	now    func() time.Time
	logger LogWriter

	mu   sync.Mutex
	data *File
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultReservationTTL. A non-positive TTL disables expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger reports write failures of background expiry.
func WithLogger(l LogWriter) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store persisted at path. The store is empty until Load.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path: path,
		ttl:  DefaultReservationTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.data = s.emptyFile()
	return s
}

// NewMemory creates a store that is never written to disk.
func NewMemory(opts ...Option) *Store {
	return New("", opts...)
}

// Path returns the backing file, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) emptyFile() *File {
	return &File{
		Version:   currentVersion,
		UpdatedAt: s.now(),
		Entries:   make(map[string]*Entry),
	}
}

// Load reads the reservation file. A missing file leaves the store empty.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	var f File
	found, err := fileutil.ReadJSON(s.path, &f)
	var decodeErr *fileutil.DecodeError
	if errors.As(err, &decodeErr) {
		return vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrDecoding, err), map[string]string{"path": s.path})
	}
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if f.Version != currentVersion {
		return vaulterr.WithDetails(vaulterr.ErrUnsupportedVersion, map[string]string{
			"path":    s.path,
			"version": fmt.Sprint(f.Version),
		})
	}
	if f.Entries == nil {
		f.Entries = make(map[string]*Entry)
	}

	s.mu.Lock()
	s.data = &f
	s.mu.Unlock()
	return nil
}

// saveLocked persists the store. Callers hold s.mu.
func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	s.data.UpdatedAt = s.now()
	return fileutil.WriteJSON(s.path, s.data, filePermissions)
}

// expireLocked drops reservations older than the TTL. Callers hold s.mu.
func (s *Store) expireLocked() bool {
	if s.ttl <= 0 {
		return false
	}
	cutoff := s.now().Add(-s.ttl)
	changed := false
	for k, e := range s.data.Entries {
		if e.State == StateReserved && e.UpdatedAt.Before(cutoff) {
			delete(s.data.Entries, k)
			changed = true
		}
	}
	return changed
}

// Available filters utxos down to those neither reserved nor spent.
func (s *Store) Available(cur chain.Currency, utxos []chain.UTXO) []chain.UTXO {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expireLocked() {
		if err := s.saveLocked(); err != nil && s.logger != nil {
			s.logger.Error("utxostore: persisting expired reservations to %s: %v", s.path, err)
		}
	}

	out := make([]chain.UTXO, 0, len(utxos))
	for _, u := range utxos {
		if _, taken := s.data.Entries[entryKey(cur.Code, u.TxID, u.Vout)]; !taken {
			out = append(out, u)
		}
	}
	return out
}

// Reserve claims utxos for owner. It is all-or-nothing: if any output is
// already reserved by another owner or spent, nothing is claimed and
// ErrReservationConflict is returned.
func (s *Store) Reserve(cur chain.Currency, owner string, utxos []chain.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	for _, u := range utxos {
		e, ok := s.data.Entries[entryKey(cur.Code, u.TxID, u.Vout)]
		if ok && (e.State == StateSpent || e.Owner != owner) {
			return vaulterr.WithDetails(vaulterr.ErrReservationConflict, map[string]string{
				"outpoint": u.Key(),
				"state":    string(e.State),
			})
		}
	}

	now := s.now()
	for _, u := range utxos {
		e := &Entry{
			Currency:  cur.Code,
			TxID:      u.TxID,
			Vout:      u.Vout,
			Amount:    u.Amount,
			Address:   u.Address,
			State:     StateReserved,
			Owner:     owner,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.data.Entries[e.Key()] = e
	}
	return s.saveLocked()
}

// Release drops the claims owner holds on utxos. Spent entries and claims
// held by another owner, e.g. after this one expired and was re-reserved,
// are kept.
func (s *Store) Release(cur chain.Currency, owner string, utxos []chain.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, u := range utxos {
		k := entryKey(cur.Code, u.TxID, u.Vout)
		if e, ok := s.data.Entries[k]; ok && e.State == StateReserved && e.Owner == owner {
			delete(s.data.Entries, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.saveLocked()
}

// MarkSpent records utxos as consumed by spentTxID. Spent outputs stay
// hidden from Available until Prune sees the indexer has dropped them.
func (s *Store) MarkSpent(cur chain.Currency, spentTxID string, utxos []chain.UTXO) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, u := range utxos {
		k := entryKey(cur.Code, u.TxID, u.Vout)
		e, ok := s.data.Entries[k]
		if !ok {
			e = &Entry{
				Currency:  cur.Code,
				TxID:      u.TxID,
				Vout:      u.Vout,
				Amount:    u.Amount,
				Address:   u.Address,
				CreatedAt: now,
			}
			s.data.Entries[k] = e
		}
		e.State = StateSpent
		e.SpentTxID = spentTxID
		e.UpdatedAt = now
	}
	return s.saveLocked()
}

// Prune forgets spent entries for address that the indexer no longer
// reports as unspent. live is the indexer's current view of the address.
func (s *Store) Prune(cur chain.Currency, address string, live []chain.UTXO) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]struct{}, len(live))
	for _, u := range live {
		current[entryKey(cur.Code, u.TxID, u.Vout)] = struct{}{}
	}

	removed := 0
	for k, e := range s.data.Entries {
		if e.Currency != cur.Code || e.Address != address || e.State != StateSpent {
			continue
		}
		if _, stillLive := current[k]; !stillLive {
			delete(s.data.Entries, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// Entries returns the tracked outputs of cur sorted by key.
func (s *Store) Entries(cur chain.Currency) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.data.Entries))
	for _, e := range s.data.Entries {
		if e.Currency == cur.Code {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ReservedAmount returns the total value claimed by in-flight transactions of cur.
func (s *Store) ReservedAmount(cur chain.Currency) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint64
	for _, e := range s.data.Entries {
		if e.Currency == cur.Code && e.State == StateReserved {
			total += e.Amount
		}
	}
	return total
}
