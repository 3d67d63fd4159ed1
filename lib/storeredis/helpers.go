package storeredis

import (
	"fmt"
	"strings"

	"github.com/float001/nchan/lib/store"
)

// toOpError classifies a Redis error - most often a Lua script's
// {err="message"} reply surfaced by redigo as a redis.Error - into the
// appropriate store.Kind (§7). Script error messages in this engine always
// begin with "op: ...", so the heuristics below only need to look at the
// message body.
func toOpError(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already exists"):
		return store.ConflictError(op, msg)
	case strings.Contains(msg, "went below zero"):
		return store.InvariantError(op, msg)
	case strings.Contains(msg, "must be a number"),
		strings.Contains(msg, "must not be empty"),
		strings.Contains(msg, "must not contain"),
		strings.Contains(msg, "must be numeric"),
		strings.Contains(msg, "delta (argv"):
		return store.ValidationError(op, msg)
	default:
		return store.WrapError(op, err)
	}
}

func errUnexpectedReply(what string, n int) error {
	return fmt.Errorf("storeredis: unexpected reply shape for %s: %d fields", what, n)
}
