package transaction

import (
	"github.com/mrz1836/coinvault/internal/chain"
	vaulterr "github.com/mrz1836/coinvault/pkg/errors"
)

// DefaultKeyScanLimit is how many derivation indexes are searched for the
// key of a sending address.
const DefaultKeyScanLimit = 20

// keyFor finds the key pair of the candidate's sender. The caller must zero
// the pair after use.
func (s *Service) keyFor(c chain.Candidate) (chain.KeyPair, error) {
	if s.keys == nil {
		return chain.KeyPair{}, vaulterr.WithSuggestion(vaulterr.ErrNotLoggedIn,
			"unlock a key source before signing")
	}
	key, index, err := s.keys.Find(c.Currency.Chain(), c.From, s.keyScanLimit)
	if err != nil {
		return chain.KeyPair{}, err
	}
	s.debug("%s: signing key for %s found at index %d", c.Currency.Code, c.From, index)
	return key, nil
}
