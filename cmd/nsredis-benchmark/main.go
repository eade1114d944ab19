// nsredis-benchmark - Benchmark tool for namespaced Redis access
//
// Usage:
//
//	nsredis-benchmark [flags]
//
// Flags:
//
//	-addr string       Server address, Redis or nsproxy (default "localhost:6379")
//	-namespace string  Key namespace applied client-side (default "bench:")
//	-clients int       Number of parallel clients (default 50)
//	-requests int      Total number of requests (default 100000)
//	-pipeline int      Commands per pipeline round trip (default 1)
//	-test string       Test type: set,get,mixed,incr,ping (default "mixed")
package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flashdb/nsredis/internal/client"
	"github.com/flashdb/nsredis/internal/logger"
)

func main() {
	addr := flag.String("addr", "localhost:6379", "Server address")
	ns := flag.String("namespace", "bench:", "Key namespace")
	clients := flag.Int("clients", 50, "Number of parallel clients")
	requests := flag.Int("requests", 100000, "Total number of requests")
	pipeline := flag.Int("pipeline", 1, "Commands per pipeline round trip")
	testType := flag.String("test", "mixed", "Test type: set,get,mixed,incr,ping")
	flag.Parse()

	if *clients < 1 || *pipeline < 1 {
		fmt.Println("clients and pipeline must be at least 1")
		return
	}

	fmt.Println("====== nsredis Benchmark ======")
	fmt.Printf("Server: %s\n", *addr)
	fmt.Printf("Namespace: %q\n", *ns)
	fmt.Printf("Clients: %d\n", *clients)
	fmt.Printf("Requests: %d\n", *requests)
	fmt.Printf("Pipeline: %d\n", *pipeline)
	fmt.Printf("Test: %s\n", *testType)
	fmt.Println()

	var completed, failed int64
	reqPerClient := *requests / *clients
	latencies := make([][]time.Duration, *clients)
	ctx := context.Background()

	start := time.Now()
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			c := client.New(client.Options{Addr: *addr, Namespace: *ns, Logger: logger.Discard()})
			defer c.Close()

			for j := 0; j < reqPerClient; j += *pipeline {
				n := min(*pipeline, reqPerClient-j)
				p := c.Pipeline(false)
				for k := 0; k < n; k++ {
					p.Queue(benchCommand(*testType, clientID, j+k)...)
				}

				t0 := time.Now()
				results, err := p.Exec(ctx)
				latencies[clientID] = append(latencies[clientID], time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failed, int64(n))
					continue
				}
				for _, r := range results {
					if r.Err != nil {
						atomic.AddInt64(&failed, 1)
						continue
					}
					atomic.AddInt64(&completed, 1)
				}
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	var all []time.Duration
	for _, l := range latencies {
		all = append(all, l...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	fmt.Println("====== Results ======")
	fmt.Printf("Total time: %v\n", elapsed)
	fmt.Printf("Completed: %d\n", completed)
	fmt.Printf("Errors: %d\n", failed)
	if completed > 0 {
		fmt.Printf("Requests/sec: %.2f\n", float64(completed)/elapsed.Seconds())
	}
	if len(all) > 0 {
		fmt.Printf("Round trip p50: %v\n", all[len(all)/2])
		fmt.Printf("Round trip p99: %v\n", all[len(all)*99/100])
	}
}

func benchCommand(test string, clientID, j int) []any {
	key := fmt.Sprintf("key:%d:%d", clientID, j)
	value := fmt.Sprintf("value:%d:%d", clientID, j)

	switch test {
	case "set":
		return []any{"SET", key, value}
	case "get":
		return []any{"GET", key}
	case "mixed":
		if j%2 == 0 {
			return []any{"SET", key, value}
		}
		return []any{"GET", fmt.Sprintf("key:%d:%d", clientID, j-1)}
	case "incr":
		return []any{"INCR", fmt.Sprintf("counter:%d", clientID)}
	default:
		return []any{"PING"}
	}
}
