package core

import "hash/fnv"

// ClientIDFor derives the client id from a login. The id is computable
// without a lookup, so distinct logins sharing a hash share an id; the
// registry refuses the second registration instead of overwriting.
func ClientIDFor(login string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(login))
	id := int64(h.Sum32() & 0x7fffffff)
	if id == 0 {
		// 0 is the admin of the common room and the "unset" value on the wire.
		id = 1
	}
	return id
}
