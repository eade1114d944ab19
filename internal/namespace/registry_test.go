package namespace

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		want Rule
	}{
		{"get", Rule{Before: BeforeFirst}},
		{"GET", Rule{Before: BeforeFirst}},
		{"mget", Rule{Before: BeforeAll}},
		{"keys", Rule{Before: BeforeFirst, After: AfterAll}},
		{"blpop", Rule{Before: BeforeExcludeLast, After: AfterFirst}},
		{"bzpopmin", Rule{Before: BeforeExcludeLast, After: AfterFirst}},
		{"bitop", Rule{Before: BeforeExcludeFirst}},
		{"zinterstore", Rule{Before: BeforeExcludeOptions}},
		{"msetnx", Rule{Before: BeforeAlternate}},
		{"evalsha", Rule{Before: BeforeEvalStyle}},
		{"Scan", Rule{Before: BeforeScanStyle, After: AfterSecond}},
		{"sort", Rule{Before: BeforeSort}},
		{"watch", Rule{Before: BeforeAll}},
		{"pubsub channels", Rule{After: AfterAll}},
		{"PUBSUB NUMSUB", Rule{Before: BeforeAll, After: AfterAll}},
		{"multi", Rule{}},
		{"flushdb", Rule{}},
		{"not-a-command", Rule{}},
		{"", Rule{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.name))
		})
	}
}

func TestKnown(t *testing.T) {
	for _, name := range []string{"get", "EXEC", "auth", "disconnect", "slaveof", "memory usage"} {
		assert.True(t, Known(name), name)
	}
	assert.False(t, Known("frobnicate"))
	assert.False(t, Known("memory"))
}

func TestCommandGroupsDoNotOverlap(t *testing.T) {
	seen := make(map[string]bool)
	for _, group := range []map[string]Rule{
		namespacedCommands, transactionCommands, helperCommands, administrativeCommands,
	} {
		for name := range group {
			assert.False(t, seen[name], "%s registered twice", name)
			seen[name] = true
		}
	}
	assert.Len(t, commands, len(seen))
}

func TestCommandsSorted(t *testing.T) {
	names := Commands()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "zunionstore")
	assert.Len(t, names, len(commands))
}

func TestResolve(t *testing.T) {
	name, n := Resolve(cmd("MEMORY", "usage", "k"))
	assert.Equal(t, "memory usage", name)
	assert.Equal(t, 2, n)

	name, n = Resolve(cmd("Get", "usage"))
	assert.Equal(t, "get", name)
	assert.Equal(t, 1, n)

	name, n = Resolve(cmd("pubsub"))
	assert.Equal(t, "pubsub", name)
	assert.Equal(t, 1, n)

	name, n = Resolve(nil)
	assert.Equal(t, "", name)
	assert.Equal(t, 0, n)

	name, n = Resolve(cmd(12))
	assert.Equal(t, "", name)
	assert.Equal(t, 0, n)
}

func TestLookup_Concurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range Commands() {
				_ = Lookup(name)
				_ = RewriteArgs(ns, name, cmd(name, "a", "2", "b", "c"))
			}
		}()
	}
	wg.Wait()
}

func TestRuleString(t *testing.T) {
	assert.Equal(t, "scan_style/second", Lookup("scan").String())
	assert.Equal(t, "none/none", Rule{}.String())
	assert.Equal(t, "unknown", Before(200).String())
	assert.Equal(t, "unknown", After(200).String())
}
