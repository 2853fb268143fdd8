package filter

import "github.com/granitedb/granite/pkg/keys"

// internalPolicy adapts a user-key filter policy to the internal keys
// a table actually stores: the sequence/type trailer is stripped before
// keys reach the user policy, so lookups by user key still match.
type internalPolicy struct {
	user Policy
}

// NewInternalPolicy wraps user for use by the table layer.
func NewInternalPolicy(user Policy) Policy {
	return &internalPolicy{user: user}
}

// Name returns the user policy's name so filter blocks remain
// compatible with tables written against the bare policy.
func (p *internalPolicy) Name() string { return p.user.Name() }

func (p *internalPolicy) CreateFilter(ikeys [][]byte, dst []byte) []byte {
	userKeys := make([][]byte, 0, len(ikeys))
	for _, ik := range ikeys {
		if len(ik) < keys.TrailerLen {
			continue
		}
		userKeys = append(userKeys, keys.UserKey(ik))
	}
	return p.user.CreateFilter(userKeys, dst)
}

func (p *internalPolicy) KeyMayMatch(key, f []byte) bool {
	if len(key) >= keys.TrailerLen {
		key = keys.UserKey(key)
	}
	return p.user.KeyMayMatch(key, f)
}
