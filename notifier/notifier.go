// Package notifier delivers attack alerts out of band. Delivery never blocks
// or influences the request path.
package notifier

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"aegisgate/logger"
)

const deliveryTimeout = 8 * time.Second

type Alert struct {
	Time         time.Time `json:"time"`
	TargetID     string    `json:"targetId"`
	Action       string    `json:"action"`
	TrafficClass string    `json:"trafficClass"`
	AnomalyScore int       `json:"anomalyScore"`
	RPS          float64   `json:"rps"`
	Reason       string    `json:"reason"`
}

// Text renders the alert as a Markdown chat message.
func (a Alert) Text() string {
	orDefault := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return strings.Join([]string{
		"*AegisGate Attack Alert*",
		"Time: " + a.Time.UTC().Format("2006-01-02 15:04:05 UTC"),
		"Target: " + orDefault(a.TargetID, "unknown"),
		"Action: " + orDefault(a.Action, "UNKNOWN"),
		"Traffic: " + orDefault(a.TrafficClass, "unknown"),
		fmt.Sprintf("Anomaly Score: %d", a.AnomalyScore),
		fmt.Sprintf("RPS: %d", int(math.Round(a.RPS))),
		"Reason: " + orDefault(a.Reason, "Attack mode active."),
	}, "\n")
}

type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// AttackAlerter sends an alert when attack mode turns on, and again every
// cooldown while it stays on.
type AttackAlerter struct {
	notifiers []Notifier
	cooldown  time.Duration

	mu         sync.Mutex
	lastActive bool
	lastSentAt time.Time
	now        func() time.Time
	wg         sync.WaitGroup
}

func NewAttackAlerter(cooldown time.Duration, notifiers ...Notifier) *AttackAlerter {
	active := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &AttackAlerter{
		notifiers: active,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

func (a *AttackAlerter) Enabled() bool {
	return a != nil && len(a.notifiers) > 0
}

// Observe records the current attack state and dispatches alert in the
// background when it is due. It reports whether a dispatch happened.
func (a *AttackAlerter) Observe(active bool, alert Alert) bool {
	if !a.Enabled() {
		return false
	}

	a.mu.Lock()
	now := a.now()
	due := active && (!a.lastActive || now.Sub(a.lastSentAt) > a.cooldown)
	a.lastActive = active
	if due {
		a.lastSentAt = now
	}
	a.mu.Unlock()

	if !due {
		return false
	}
	if alert.Time.IsZero() {
		alert.Time = now
	}

	for _, n := range a.notifiers {
		a.wg.Add(1)
		go func(n Notifier) {
			defer a.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			if err := n.Notify(ctx, alert); err != nil {
				logger.Warn("Attack alert delivery failed", "err", err, "target", alert.TargetID)
			}
		}(n)
	}
	return true
}

// Wait blocks until in-flight deliveries finish.
func (a *AttackAlerter) Wait() {
	if a != nil {
		a.wg.Wait()
	}
}
