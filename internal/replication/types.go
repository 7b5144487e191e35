// Package replication implements the core CAS-based ref consensus: the
// membership enrollment loop and the update-hook accept/reject/catch-up
// decision machine.
package replication

// RefValue is a 40-character lowercase hex Git object id, or Blank.
type RefValue = string

// Blank is the sentinel meaning "ref does not exist".
const Blank RefValue = "0000000000000000000000000000000000000000"

// Member identifies one repository peer by its configured URL.
type Member = string

// GroupRefKey builds the KV key that holds the agreed value of ref within
// group, e.g. "myproject refs/heads/master".
func GroupRefKey(group, ref string) string {
	return group + " " + ref
}

// kvPrevValue translates a ref's old value into the KV protocol's
// prevValue encoding: Blank (ref never existed) becomes the empty string
// ("key did not exist"), any other value passes through unchanged.
// DecideUpdate's ref-key CAS is its only caller; the membership and epoch
// loops build their own prevValue from whether the key was found.
func kvPrevValue(old RefValue) string {
	if old == Blank {
		return ""
	}
	return old
}
