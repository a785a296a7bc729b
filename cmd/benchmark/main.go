// Command benchmark drives a target relay with concurrent publish/subscribe
// load, exercising the same wire path C1 Connections uses in the worker
// runtime, to get a feel for round-trip behaviour under load.
package main

import (
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync"
	"time"

	"worker.orly.dev/pkg/crypto/p256k"
	"worker.orly.dev/pkg/encoders/envelopes/eventenvelope"
	"worker.orly.dev/pkg/encoders/event"
	"worker.orly.dev/pkg/encoders/filter"
	"worker.orly.dev/pkg/encoders/kind"
	"worker.orly.dev/pkg/encoders/tag"
	"worker.orly.dev/pkg/encoders/timestamp"
	"worker.orly.dev/pkg/protocol/ws"
)

type BenchmarkConfig struct {
	TestDuration time.Duration

	RelayURL   string
	NetWorkers int
	NetRate    int // events/sec per worker
}

func main() {
	cfg := parseFlags()
	if cfg.RelayURL == "" {
		fmt.Println("usage: benchmark -relay-url wss://relay.example (see -h for the rest)")
		return
	}
	runNetworkLoad(cfg)
}

func parseFlags() *BenchmarkConfig {
	cfg := &BenchmarkConfig{}

	flag.DurationVar(
		&cfg.TestDuration, "duration", 60*time.Second, "test duration",
	)
	flag.StringVar(
		&cfg.RelayURL, "relay-url", "", "relay WebSocket URL to load",
	)
	flag.IntVar(
		&cfg.NetWorkers, "workers", runtime.NumCPU(), "concurrent connections",
	)
	flag.IntVar(&cfg.NetRate, "rate", 20, "events per second per worker")

	flag.Parse()
	return cfg
}

// runNetworkLoad opens NetWorkers connections to RelayURL; each one
// publishes signed kind:1 notes at NetRate per second and, concurrently,
// subscribes to its own output to observe round-trip delivery.
func runNetworkLoad(cfg *BenchmarkConfig) {
	fmt.Printf(
		"relay=%s workers=%d rate=%d ev/s per worker duration=%s\n",
		cfg.RelayURL, cfg.NetWorkers, cfg.NetRate, cfg.TestDuration,
	)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.TestDuration)
	defer cancel()
	var wg sync.WaitGroup
	if cfg.NetWorkers <= 0 {
		cfg.NetWorkers = 1
	}
	if cfg.NetRate <= 0 {
		cfg.NetRate = 1
	}
	for i := 0; i < cfg.NetWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rl, err := ws.RelayConnect(ctx, cfg.RelayURL)
			if err != nil {
				fmt.Printf(
					"worker %d: failed to connect to %s: %v\n", workerID,
					cfg.RelayURL, err,
				)
				return
			}
			defer rl.Close()
			fmt.Printf("worker %d: connected to %s\n", workerID, cfg.RelayURL)

			var keys p256k.Signer
			if err := keys.Generate(); err != nil {
				fmt.Printf("worker %d: keygen failed: %v\n", workerID, err)
				return
			}

			// Subscribe to this worker's own pubkey+kind so round-trip
			// delivery can be observed alongside the publish side.
			since := time.Now().Unix()
			go func() {
				f := filter.New()
				f.Kinds = kind.NewS(kind.TextNote)
				f.Authors = tag.NewWithCap(1)
				f.Authors.T = append(f.Authors.T, keys.Pub())
				f.Since = timestamp.FromUnix(since)
				sub, err := rl.Subscribe(ctx, filter.NewS(f))
				if err != nil {
					fmt.Printf("worker %d: subscribe error: %v\n", workerID, err)
					return
				}
				defer sub.Unsub()
				recv := 0
				for {
					select {
					case <-ctx.Done():
						fmt.Printf("worker %d: subscriber exiting after %d events\n", workerID, recv)
						return
					case <-sub.EndOfStoredEvents:
						// continue streaming live events
					case ev := <-sub.Events:
						if ev == nil {
							continue
						}
						recv++
						if recv%100 == 0 {
							fmt.Printf("worker %d: received %d matching events\n", workerID, recv)
						}
						ev.Free()
					}
				}
			}()

			interval := time.Second / time.Duration(cfg.NetRate)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			count := 0
			for {
				select {
				case <-ctx.Done():
					fmt.Printf(
						"worker %d: stopping after %d publishes\n", workerID,
						count,
					)
					return
				case <-ticker.C:
					ev := event.New()
					ev.Kind = uint16(1)
					ev.CreatedAt = time.Now().Unix()
					ev.Tags = tag.NewS()
					ev.Content = []byte(fmt.Sprintf(
						"bench worker=%d n=%d", workerID, count,
					))
					if err := ev.Sign(&keys); err != nil {
						fmt.Printf("worker %d: sign error: %v\n", workerID, err)
						ev.Free()
						continue
					}
					// Async publish: don't wait for OK, to keep throughput up.
					ch := rl.Write(eventenvelope.NewSubmissionWith(ev).Marshal(nil))
					select {
					case err := <-ch:
						if err != nil {
							fmt.Printf("worker %d: write error: %v\n", workerID, err)
						}
					default:
					}
					if count%100 == 0 {
						fmt.Printf("worker %d: sent %d events\n", workerID, count)
					}
					ev.Free()
					count++
				}
			}
		}(i)
	}
	wg.Wait()
}
