package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

type health struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func main() {
	target := flag.String("t", "http://localhost:3000/health", "Gateway health URL to ping")
	count := flag.Int("c", 4, "Number of pings to send")
	interval := flag.Duration("i", 1*time.Second, "Interval between pings")
	flag.Parse()

	fmt.Printf("PING AegisGate %s:\n", *target)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	successCount := 0
	var totalDuration time.Duration

	for i := 0; i < *count; i++ {
		start := time.Now()
		resp, err := client.Get(*target)
		duration := time.Since(start)

		if err != nil {
			fmt.Printf("Request %d: FAILED (%v)\n", i+1, err)
		} else {
			var h health
			json.NewDecoder(resp.Body).Decode(&h)
			resp.Body.Close()
			fmt.Printf("Response from %s: status=%d health=%s uptime=%s time=%v\n", *target, resp.StatusCode, h.Status, h.Uptime, duration)
			if resp.StatusCode == http.StatusOK && h.Status == "ok" {
				successCount++
				totalDuration += duration
			}
		}

		if i < *count-1 {
			time.Sleep(*interval)
		}
	}

	fmt.Printf("\n--- %s ping statistics ---\n", *target)
	fmt.Printf("%d probes sent, %d healthy, %.1f%% failure\n", *count, successCount, float64(*count-successCount)/float64(*count)*100)
	if successCount > 0 {
		fmt.Printf("avg time = %v\n", totalDuration/time.Duration(successCount))
	}

	if successCount == 0 {
		os.Exit(1)
	}
}
