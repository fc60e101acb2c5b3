// Package transaction drives a transfer through the pipeline
// Candidate → Validated → Signed → Encoded → Published using the
// capabilities registered for the currency.
package transaction

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/metrics"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// publishTimeout bounds a shared submission once it is detached from its callers.
const publishTimeout = 2 * time.Minute

// Service provides transaction sending functionality.
type Service struct {
	registry     *chain.Registry
	validator    *Validator
	keys         KeySource
	keyScanLimit uint32
	balances     BalanceInvalidator
	metrics      *metrics.Metrics
	logger       LogWriter
	now          func() time.Time

	locks    *accountLocks
	ledger   *ledger
	inflight singleflight.Group
}

// Config holds dependencies for the transaction service.
type Config struct {
	Registry     *chain.Registry
	Keys         KeySource          // optional, Sign fails without it
	Balances     BalanceInvalidator // optional
	Validator    *Validator         // defaults to NewValidator(Registry)
	KeyScanLimit uint32
	Metrics      *metrics.Metrics
	Logger       LogWriter
	Now          func() time.Time
}

// NewService creates a new transaction service.
func NewService(cfg *Config) *Service {
	s := &Service{
		registry:     cfg.Registry,
		validator:    cfg.Validator,
		keys:         cfg.Keys,
		keyScanLimit: cfg.KeyScanLimit,
		balances:     cfg.Balances,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
		locks:        newAccountLocks(),
		ledger:       newLedger(),
	}
	if s.validator == nil {
		s.validator = NewValidator(cfg.Registry)
	}
	if s.keyScanLimit == 0 {
		s.keyScanLimit = DefaultKeyScanLimit
	}
	if s.metrics == nil {
		s.metrics = metrics.Global
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Prepare reads fresh account state and fees, builds a candidate and
// evaluates it. Reading state, claiming inputs or a nonce and building run
// under a per-account lock, so a concurrent build from the same account
// observes this one's claims. A rejected candidate has its claims released.
func (s *Service) Prepare(ctx context.Context, req SendRequest) (chain.Validated, error) {
	if err := req.validate(); err != nil {
		return chain.Validated{}, err
	}
	cur := req.Currency()
	caps, err := s.registry.Pipeline(cur)
	if err != nil {
		return chain.Validated{}, err
	}

	unlock, err := s.locks.acquire(ctx, lockKey(cur, req.From))
	if err != nil {
		return chain.Validated{}, err
	}
	defer unlock()

	state, err := caps.Balances.FetchState(ctx, cur, req.From)
	if err != nil {
		return chain.Validated{}, err
	}
	fees, err := caps.Fees.EstimateFees(ctx)
	if err != nil {
		return chain.Validated{}, err
	}

	facts := FactsFromState(state)
	if caps.Destinations != nil {
		reachable, rerr := caps.Destinations.Reachable(ctx, cur, req.To)
		if rerr != nil {
			return chain.Validated{}, rerr
		}
		facts.DestinationMissing = !reachable
	}

	cand, err := caps.Builder.Build(req.buildRequest(), state, fees)
	if err != nil {
		return chain.Validated{}, err
	}
	if cand.ID == "" {
		cand.ID = uuid.NewString()
	}
	if cand.CreatedAt.IsZero() {
		cand.CreatedAt = s.now()
	}

	verdict := s.validator.Evaluate(cand, facts, fees)
	s.metrics.RecordCandidate(!verdict.Accepted)
	if !verdict.Accepted {
		s.release(caps, cand)
		s.debug("%s: candidate %s rejected: %s", cur.Code, cand.ID, verdict.Reason)
		return chain.Validated{}, verdict.Err()
	}

	s.debug("%s: candidate %s accepted, fee %s, spendable after fee %s",
		cur.Code, cand.ID, cand.Fee, verdict.Spendable)
	return chain.Validated{Candidate: cand, Spendable: verdict.Spendable}, nil
}

// Abandon releases the inputs or nonce a prepared candidate claimed.
func (s *Service) Abandon(v chain.Validated) {
	caps, err := s.registry.Lookup(v.Candidate.Currency)
	if err != nil {
		return
	}
	s.release(caps, v.Candidate)
}

// Sign signs a validated candidate with the sender's key from the key source.
func (s *Service) Sign(_ context.Context, v chain.Validated) (chain.Signed, error) {
	key, err := s.keyFor(v.Candidate)
	if err != nil {
		return chain.Signed{}, err
	}
	defer key.Zero()
	return s.SignWith(v, key)
}

// SignWith signs a validated candidate with an explicit key pair.
func (s *Service) SignWith(v chain.Validated, key chain.KeyPair) (chain.Signed, error) {
	if v.Candidate.ID == "" {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{
			"reason": "sign requires a validated candidate",
		})
	}
	caps, err := s.registry.Pipeline(v.Candidate.Currency)
	if err != nil {
		return chain.Signed{}, err
	}
	return caps.Signer.Sign(v, key)
}

// Encode serializes a signed transaction.
func (s *Service) Encode(signed chain.Signed) (chain.Encoded, error) {
	if signed.Tx == nil {
		return chain.Encoded{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{
			"reason": "encode requires a signed transaction",
		})
	}
	caps, err := s.registry.Pipeline(signed.Tx.Currency())
	if err != nil {
		return chain.Encoded{}, err
	}
	return caps.Encoder.Encode(signed)
}

// Publish broadcasts an encoded transaction once per hash. A hash this
// process already published returns the recorded result without a network
// call, and concurrent publishes of one hash share a single submission.
//
// On success the claimed inputs or nonce are committed and the sender's
// cached details invalidated. A definitive rejection releases the claims;
// any other failure leaves them held since the network may have accepted
// the transaction.
func (s *Service) Publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	if e.Hash == "" || e.Signed.Tx == nil {
		return chain.Published{}, vaulterr.WithDetails(vaulterr.ErrStageMismatch, map[string]string{
			"reason": "publish requires an encoded transaction",
		})
	}
	if prior, ok := s.ledger.get(e.Hash); ok {
		s.metrics.RecordBroadcast(true, nil)
		prior.Duplicate = true
		return prior, nil
	}

	// The shared submission outlives any one caller: a caller whose ctx ends
	// returns early while the others still get the network's answer.
	ch := s.inflight.DoChan(e.Hash, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		return s.publish(shared, e)
	})
	select {
	case <-ctx.Done():
		return chain.Published{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return chain.Published{}, res.Err
		}
		return res.Val.(chain.Published), nil //nolint:forcetypeassert // publish only returns chain.Published
	}
}

func (s *Service) publish(ctx context.Context, e chain.Encoded) (chain.Published, error) {
	if prior, ok := s.ledger.get(e.Hash); ok {
		prior.Duplicate = true
		return prior, nil
	}

	cur := e.Signed.Tx.Currency()
	caps, err := s.registry.Pipeline(cur)
	if err != nil {
		return chain.Published{}, err
	}
	cand := e.Signed.Validated.Candidate

	pub, err := caps.Broadcaster.Publish(ctx, e)
	s.metrics.RecordBroadcast(err == nil && pub.Duplicate, err)
	if err != nil {
		if definitive(err) {
			s.release(caps, cand)
		} else {
			s.logError("%s: publish of %s failed, inputs stay claimed: %v", cur.Code, e.Hash, err)
		}
		return chain.Published{}, err
	}

	if pub.Hash == "" {
		pub.Hash = e.Hash
	}
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = s.now()
	}
	if caps.Reservations != nil && cand.ID != "" {
		caps.Reservations.Commit(cand, pub.Hash)
	}
	s.ledger.put(e.Hash, pub)
	s.invalidateAfterPublish(ctx, cand)
	s.debug("%s: published %s", cur.Code, pub.Hash)
	return pub, nil
}

// Send runs the whole pipeline. Claims are released when a stage before
// Publish fails.
func (s *Service) Send(ctx context.Context, req SendRequest) (chain.Published, error) {
	validated, err := s.Prepare(ctx, req)
	if err != nil {
		return chain.Published{}, err
	}
	signed, err := s.Sign(ctx, validated)
	if err != nil {
		s.Abandon(validated)
		return chain.Published{}, err
	}
	encoded, err := s.Encode(signed)
	if err != nil {
		s.Abandon(validated)
		return chain.Published{}, err
	}
	return s.Publish(ctx, encoded)
}

// Published returns the recorded result of a hash this process published.
func (s *Service) Published(hash string) (chain.Published, bool) {
	return s.ledger.get(hash)
}

// Decode parses canonical wire bytes of cur back into a signed transaction.
func (s *Service) Decode(cur chain.Currency, raw []byte) (chain.Signed, error) {
	caps, err := s.registry.Lookup(cur)
	if err != nil {
		return chain.Signed{}, err
	}
	if caps.Encoder == nil {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.ErrUnsupportedAsset, map[string]string{
			"currency":  cur.Code,
			"operation": "decode",
		})
	}
	return caps.Encoder.Decode(raw)
}

// DecodeHex is Decode for hex input, with or without a 0x prefix.
func (s *Service) DecodeHex(cur chain.Currency, rawHex string) (chain.Signed, error) {
	rawHex = strings.TrimPrefix(strings.TrimSpace(rawHex), "0x")
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return chain.Signed{}, vaulterr.WithDetails(vaulterr.WithCause(vaulterr.ErrInvalidInput, err), map[string]string{
			"field": "raw transaction",
		})
	}
	return s.Decode(cur, raw)
}

func (s *Service) release(caps chain.Capabilities, c chain.Candidate) {
	if caps.Reservations != nil && c.ID != "" {
		caps.Reservations.Release(c)
	}
}

// definitive reports whether the network refused the transaction outright.
func definitive(err error) bool {
	return vaulterr.Is(err, vaulterr.ErrTxRejected) ||
		vaulterr.Is(err, vaulterr.ErrFeeTooLow) ||
		vaulterr.Is(err, vaulterr.ErrAddressUnreachable)
}

func (s *Service) debug(format string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(format, args...)
	}
}

func (s *Service) logError(format string, args ...any) {
	if s.logger != nil {
		s.logger.Error(format, args...)
	}
}
