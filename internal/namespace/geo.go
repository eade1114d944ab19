package namespace

// geoRadiusOptionsAt is where the optional clauses start, counting the
// command name: GEORADIUS key longitude latitude radius unit, and
// GEORADIUSBYMEMBER key member radius unit.
var geoRadiusOptionsAt = map[string]int{
	"georadius":         6,
	"georadiusbymember": 5,
}

// RewriteGeoRadius prefixes the key and the STORE and STOREDIST destinations
// of GEORADIUS and GEORADIUSBYMEMBER. The registry passes both commands
// through because their destinations are named parameters, so callers that
// forward raw commands apply this after RewriteArgs. Other commands are
// returned as is; args is never modified.
func RewriteGeoRadius(ns string, args []Value) []Value {
	if ns == "" || len(args) < 2 {
		return args
	}
	name, _ := Resolve(args)
	start, ok := geoRadiusOptionsAt[name]
	if !ok {
		return args
	}

	out := make([]Value, len(args))
	copy(out, args)
	out[1] = AddPrefix(ns, out[1])
	for i := start; i+1 < len(out); i++ {
		if out[i].Is("store") || out[i].Is("storedist") {
			i++
			out[i] = AddPrefix(ns, out[i])
		}
	}
	return out
}
