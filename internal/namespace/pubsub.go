package namespace

import (
	"fmt"
	"strings"
)

// RewriteMessage removes namespace ns from a message delivered on a
// subscribed connection. msg is the raw [type, ...] sequence:
//
//	pmessage  pattern channel payload   pattern and channel are stripped
//	pong      payload                   left alone
//	otherwise channel ...               channel is stripped
//
// msg is never modified.
func RewriteMessage(ns string, msg Value) (Value, error) {
	if ns == "" {
		return msg, nil
	}
	items := msg.Items()
	if len(items) < 2 {
		return msg, fmt.Errorf("%w: pub/sub message %s", ErrResponseShape, msg)
	}
	kind, _ := items[0].Str()

	out := make([]Value, len(items))
	copy(out, items)
	switch strings.ToLower(kind) {
	case "pong":
		return msg, nil
	case "pmessage":
		if len(items) < 3 {
			return msg, fmt.Errorf("%w: pmessage needs pattern and channel", ErrResponseShape)
		}
		out[1] = StripPrefix(ns, out[1])
		out[2] = StripPrefix(ns, out[2])
	default:
		out[1] = StripPrefix(ns, out[1])
	}
	return List(out...), nil
}
