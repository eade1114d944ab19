// Package namespace rewrites Redis commands and replies so that several tenants
// can share one server while each sees only the keys under its own prefix.
//
// The package has two halves. The registry maps every known command to a Rule
// saying where its keys appear: Before locates keys among the arguments, After
// locates keys in the reply. The rewrite functions apply those rules:
//
//	args := namespace.RewriteArgs("app:", "mget", []namespace.Value{
//		namespace.Str("mget"), namespace.Str("a"), namespace.Str("b"),
//	})
//	// ["mget" "app:a" "app:b"]
//
//	reply, err := namespace.RewriteResponse("app:", "keys", raw)
//
// Everything here is pure: the registry is built once at init and the
// functions never mutate their inputs, so any number of goroutines may call
// them concurrently. An empty namespace turns every function into the
// identity. Commands missing from the registry pass through unchanged in both
// directions and therefore are not isolated.
package namespace
