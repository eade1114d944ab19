package namespace

import (
	"sort"
	"strings"
)

var (
	first         = Rule{Before: BeforeFirst}
	all           = Rule{Before: BeforeAll}
	excludeFirst  = Rule{Before: BeforeExcludeFirst}
	excludeLast   = Rule{Before: BeforeExcludeLast}
	blockingPop   = Rule{Before: BeforeExcludeLast, After: AfterFirst}
	storeOptions  = Rule{Before: BeforeExcludeOptions}
	alternate     = Rule{Before: BeforeAlternate}
	evalStyle     = Rule{Before: BeforeEvalStyle}
	passthrough   = Rule{}
	allBothWays   = Rule{Before: BeforeAll, After: AfterAll}
	replyKeysOnly = Rule{After: AfterAll}
)

// namespacedCommands take one or more explicit keys.
var namespacedCommands = map[string]Rule{
	// strings and bitmaps
	"append":      first,
	"bitcount":    first,
	"bitfield":    first,
	"bitop":       excludeFirst,
	"bitpos":      first,
	"decr":        first,
	"decrby":      first,
	"get":         first,
	"getbit":      first,
	"getdel":      first,
	"getex":       first,
	"getrange":    first,
	"getset":      first,
	"incr":        first,
	"incrby":      first,
	"incrbyfloat": first,
	"mget":        all,
	"mset":        alternate,
	"msetnx":      alternate,
	"psetex":      first,
	"set":         first,
	"setbit":      first,
	"setex":       first,
	"setnx":       first,
	"setrange":    first,
	"strlen":      first,
	"substr":      first,

	// generic keyspace
	"del":          all,
	"dump":         first,
	"exists":       all,
	"expire":       first,
	"expireat":     first,
	"keys":         {Before: BeforeFirst, After: AfterAll},
	"memory usage": first,
	"move":         first,
	"object":       excludeFirst,
	"persist":      first,
	"pexpire":      first,
	"pexpireat":    first,
	"pttl":         first,
	"rename":       all,
	"renamenx":     all,
	"restore":      first,
	"scan":         {Before: BeforeScanStyle, After: AfterSecond},
	"sort":         {Before: BeforeSort},
	"touch":        all,
	"ttl":          first,
	"type":         first,
	"unlink":       all,

	// hashes
	"hdel":         first,
	"hexists":      first,
	"hget":         first,
	"hgetall":      first,
	"hincrby":      first,
	"hincrbyfloat": first,
	"hkeys":        first,
	"hlen":         first,
	"hmget":        first,
	"hmset":        first,
	"hrandfield":   first,
	"hscan":        first,
	"hset":         first,
	"hsetnx":       first,
	"hstrlen":      first,
	"hvals":        first,

	// lists
	"blpop":      blockingPop,
	"brpop":      blockingPop,
	"brpoplpush": excludeLast,
	"lindex":     first,
	"linsert":    first,
	"llen":       first,
	"lpop":       first,
	"lpos":       first,
	"lpush":      first,
	"lpushx":     first,
	"lrange":     first,
	"lrem":       first,
	"lset":       first,
	"ltrim":      first,
	"rpop":       first,
	"rpoplpush":  all,
	"rpush":      first,
	"rpushx":     first,

	// sets
	"sadd":        first,
	"scard":       first,
	"sdiff":       all,
	"sdiffstore":  all,
	"sinter":      all,
	"sinterstore": all,
	"sismember":   first,
	"smembers":    first,
	"smismember":  first,
	"smove":       excludeLast,
	"spop":        first,
	"srandmember": first,
	"srem":        first,
	"sscan":       first,
	"sunion":      all,
	"sunionstore": all,

	// sorted sets
	"bzpopmax":         blockingPop,
	"bzpopmin":         blockingPop,
	"zadd":             first,
	"zcard":            first,
	"zcount":           first,
	"zincrby":          first,
	"zinterstore":      storeOptions,
	"zlexcount":        first,
	"zmscore":          first,
	"zpopmax":          first,
	"zpopmin":          first,
	"zrandmember":      first,
	"zrange":           first,
	"zrangebylex":      first,
	"zrangebyscore":    first,
	"zrank":            first,
	"zrem":             first,
	"zremrangebylex":   first,
	"zremrangebyrank":  first,
	"zremrangebyscore": first,
	"zrevrange":        first,
	"zrevrangebylex":   first,
	"zrevrangebyscore": first,
	"zrevrank":         first,
	"zscan":            first,
	"zscore":           first,
	"zunionstore":      storeOptions,

	// geo; the radius variants carry STORE/STOREDIST as named parameters and
	// are prefixed by the client helpers instead.
	"geoadd":            first,
	"geodist":           first,
	"geohash":           first,
	"geopos":            first,
	"georadius":         passthrough,
	"georadiusbymember": passthrough,

	// hyperloglog
	"pfadd":   first,
	"pfcount": all,
	"pfmerge": all,

	// scripting
	"eval":    evalStyle,
	"evalsha": evalStyle,

	// pub/sub
	"psubscribe":      all,
	"publish":         first,
	"pubsub channels": replyKeysOnly,
	"pubsub numsub":   allBothWays,
	"punsubscribe":    all,
	"subscribe":       all,
	"unsubscribe":     all,
}

var transactionCommands = map[string]Rule{
	"discard": passthrough,
	"exec":    passthrough,
	"multi":   passthrough,
	"unwatch": all,
	"watch":   all,
}

var helperCommands = map[string]Rule{
	"auth":       passthrough,
	"disconnect": passthrough,
	"echo":       passthrough,
	"ping":       passthrough,
	"time":       passthrough,
}

var administrativeCommands = map[string]Rule{
	"bgrewriteaof": passthrough,
	"bgsave":       passthrough,
	"config":       passthrough,
	"dbsize":       passthrough,
	"flushall":     passthrough,
	"flushdb":      passthrough,
	"info":         passthrough,
	"lastsave":     passthrough,
	"monitor":      passthrough,
	"quit":         passthrough,
	"randomkey":    passthrough,
	"save":         passthrough,
	"script":       passthrough,
	"select":       passthrough,
	"shutdown":     passthrough,
	"slaveof":      passthrough,
}

// commands is built once at init and only read afterwards.
var commands = func() map[string]Rule {
	merged := make(map[string]Rule)
	for _, group := range []map[string]Rule{
		namespacedCommands,
		transactionCommands,
		helperCommands,
		administrativeCommands,
	} {
		for name, rule := range group {
			merged[name] = rule
		}
	}
	return merged
}()

// Lookup returns the rule for a command name, ignoring case. Unknown commands
// get the zero Rule.
func Lookup(name string) Rule {
	return commands[strings.ToLower(name)]
}

// Known reports whether name is registered.
func Known(name string) bool {
	_, ok := commands[strings.ToLower(name)]
	return ok
}

// Commands returns every registered command name, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the lower-cased registered name of the command in args and
// the number of leading arguments that form it (1, or 2 for commands such as
// "memory usage"). Resolve returns "", 0 for an empty or non-scalar args[0].
func Resolve(args []Value) (string, int) {
	if len(args) == 0 {
		return "", 0
	}
	name, ok := args[0].Str()
	if !ok {
		return "", 0
	}
	name = strings.ToLower(name)
	return resolveSub(name, args)
}

func resolveSub(name string, args []Value) (string, int) {
	if len(args) > 1 {
		if sub, ok := args[1].Str(); ok {
			full := name + " " + strings.ToLower(sub)
			if _, ok := commands[full]; ok {
				return full, 2
			}
		}
	}
	return name, 1
}
