package keyvalue

import "context"

// hashmap keys are composite: the top 44 bits hold the outer key, the
// bottom 20 bits hold the sub-key. Sub-keys above that range collide; the
// original's separate hashmap storage tracked (key, subKey) pairs in their
// own map, but reusing SimpleLocalStorage/SimpleRemoteStorage under a
// packed key gets the same retry/ack/resync state machine for free
// without a second protocol to maintain.
const subKeyBits = 20
const subKeyMask = (1 << subKeyBits) - 1

func packHashKey(key KeyId, subKey SubKeyId) KeyId {
	return (key << subKeyBits) | (subKey & subKeyMask)
}

func unpackHashKey(packed KeyId) (key KeyId, subKey SubKeyId) {
	return packed >> subKeyBits, packed & subKeyMask
}

// HashChange carries the sub-key alongside the usual Change fields. HSubscribe
// does not produce it: its Subscriber delivers plain Change values whose Key
// is the packed key.
type HashChange struct {
	Key, SubKey KeyId
	Value       ValueType
	Found       bool
	Version     KeyVersion
	Source      KeySource
}

// HSet stores value under (key, subKey) on whichever node owns key.
func (s *KeyValueSdk) HSet(key KeyId, subKey SubKeyId, value ValueType, ex *uint64) {
	s.Set(packHashKey(key, subKey), value, ex)
}

// HDel removes (key, subKey).
func (s *KeyValueSdk) HDel(key KeyId, subKey SubKeyId) {
	s.Del(packHashKey(key, subKey))
}

// HGet fetches the current value at (key, subKey).
func (s *KeyValueSdk) HGet(ctx context.Context, key KeyId, subKey SubKeyId, timeoutMs int64) (GetResult, error) {
	return s.Get(ctx, packHashKey(key, subKey), timeoutMs)
}

// HSubscribe subscribes to changes at (key, subKey). The returned
// Subscriber's Changes channel carries plain Change values; callers that
// need the sub-key back can recover it since they already have it.
func (s *KeyValueSdk) HSubscribe(key KeyId, subKey SubKeyId, ex *uint64) *Subscriber {
	return s.Subscribe(packHashKey(key, subKey), ex)
}
