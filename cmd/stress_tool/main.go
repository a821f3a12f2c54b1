package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"
)

type result struct {
	status  int
	latency time.Duration
}

var browserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

var cleanPaths = []string{"/", "/api/items", "/about", "/api/items?page=2", "/search?q=shoes"}

// newRequest shapes one request for the given traffic mode. Only clean
// traffic looks like a browser.
func newRequest(base, mode string) (*http.Request, error) {
	path := "/"
	switch mode {
	case "clean":
		path = cleanPaths[rand.Intn(len(cleanPaths))]
	case "bot":
		path = "/api/heavy-export"
	}

	req, err := http.NewRequest(http.MethodGet, base+path, nil)
	if err != nil {
		return nil, err
	}
	switch mode {
	case "clean":
		req.Header.Set("User-Agent", browserAgents[rand.Intn(len(browserAgents))])
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	case "bot":
		req.Header.Set("User-Agent", "python-requests/2.31")
	case "flood":
		req.Header.Set("User-Agent", "")
	}
	return req, nil
}

func main() {
	target := flag.String("target", "http://localhost:3000/gateway/demo", "Gateway target URL to test")
	concurrency := flag.Int("c", 10, "Concurrency level (number of goroutines)")
	requests := flag.Int("n", 100, "Total number of requests")
	mode := flag.String("mode", "clean", "Traffic mode: clean, bot, flood")
	pause := flag.Duration("pause", 0, "Pause between requests per goroutine (clean mode pacing)")
	flag.Parse()

	switch *mode {
	case "clean", "bot", "flood":
	default:
		fmt.Printf("unknown mode %q\n", *mode)
		return
	}

	fmt.Printf("Starting AegisGate Stress Test\n")
	fmt.Printf("Target:      %s\n", *target)
	fmt.Printf("Concurrency: %d routines\n", *concurrency)
	fmt.Printf("Requests:    %d total\n", *requests)
	fmt.Printf("Mode:        %s\n", *mode)
	fmt.Printf("----------------------------------\n")

	results := make(chan result, *requests)
	var wg sync.WaitGroup

	reqPerRoutine := *requests / *concurrency

	startTime := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{
				Timeout: 10 * time.Second,
				// challenges and decoys answer with redirects; count them as-is
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
			for j := 0; j < reqPerRoutine; j++ {
				req, err := newRequest(*target, *mode)
				if err != nil {
					results <- result{}
					continue
				}

				reqStart := time.Now()
				resp, err := client.Do(req)
				duration := time.Since(reqStart)

				if err != nil {
					results <- result{status: 0, latency: duration}
				} else {
					results <- result{status: resp.StatusCode, latency: duration}
					resp.Body.Close()
				}
				if *pause > 0 {
					time.Sleep(*pause)
				}
			}
		}()
	}

	wg.Wait()
	close(results)

	totalDuration := time.Since(startTime)

	var latencies []time.Duration
	statusCodes := make(map[int]int)
	var totalLatency time.Duration

	for res := range results {
		statusCodes[res.status]++
		latencies = append(latencies, res.latency)
		totalLatency += res.latency
	}

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	totalReqs := len(latencies)
	if totalReqs == 0 {
		fmt.Println("No requests completed.")
		return
	}

	avgLatency := totalLatency / time.Duration(totalReqs)
	p50 := latencies[int(float64(totalReqs)*0.5)]
	p90 := latencies[int(float64(totalReqs)*0.9)]
	p95 := latencies[int(float64(totalReqs)*0.95)]
	p99 := latencies[int(float64(totalReqs)*0.99)]

	fmt.Printf("\n--- Throughput & Timing ---\n")
	fmt.Printf("Total Time:     %v\n", totalDuration)
	fmt.Printf("Requests/sec:   %.2f\n", float64(totalReqs)/totalDuration.Seconds())
	fmt.Printf("Avg Latency:    %v\n", avgLatency)
	fmt.Printf("Min Latency:    %v\n", latencies[0])
	fmt.Printf("Max Latency:    %v\n", latencies[totalReqs-1])

	fmt.Printf("\n--- Latency Percentiles ---\n")
	fmt.Printf("  p50: %v\n", p50)
	fmt.Printf("  p90: %v\n", p90)
	fmt.Printf("  p95: %v\n", p95)
	fmt.Printf("  p99: %v\n", p99)

	fmt.Printf("\n--- Mitigation Summary ---\n")
	for code, count := range statusCodes {
		label := "Unknown"
		switch code {
		case 200:
			label = "Forwarded (Allowed)"
		case 302:
			label = "Redirected (Secure/Decoy)"
		case 403:
			label = "Blocked"
		case 404:
			label = "Target Not Registered"
		case 429:
			label = "Rate Limited"
		case 502:
			label = "Upstream Unavailable"
		case 0:
			label = "Connection Dropped"
		}
		fmt.Printf("  [%d] %-25s : %d\n", code, label, count)
	}
	fmt.Printf("----------------------------------\n")
}
