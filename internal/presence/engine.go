// Package presence maps camera motion events onto smart-light switches with
// per-light debounced auto-off timers and time-of-day gating.
package presence

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-presence/internal/isapi"
	"github.com/technosupport/ts-presence/internal/lights"
	"github.com/technosupport/ts-presence/internal/metrics"
)

// Window is an inclusive time-of-day range in 4-digit 24-hour form
// (e.g. 1600–2359). A rule with windows only triggers inside one of them.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// LightRule binds one light to a channel: how long it stays on after motion
// (0 = no auto-off) and when it is allowed to trigger (no windows = always).
type LightRule struct {
	Light      string   `json:"light"`
	Duration   int      `json:"duration"`
	ActiveTime []Window `json:"active_time,omitempty"`
}

// ChannelGroup applies the same rule list to a set of camera channels.
type ChannelGroup struct {
	Channels []int
	Lights   []LightRule
}

// LightState is the externally visible state of one light slot.
type LightState struct {
	On       bool      `json:"on"`
	OffAt    time.Time `json:"off_at,omitzero"`
	Duration int       `json:"duration,omitempty"`
}

// slot is the per-light timer state. Each slot is its own critical section:
// rearming from the event loop and expiry firing from a timer goroutine both
// lock it, never the engine as a whole.
type slot struct {
	mu    sync.Mutex
	timer Timer
	gen   uint64 // increments on every arm; stale expiries check it and bail
	offAt time.Time
	dur   int
}

// Engine holds the channel→rules mapping (immutable after construction) and
// one timer slot per distinct light.
type Engine struct {
	driver  lights.Driver
	sched   Scheduler
	mapping map[int][]LightRule
	slots   map[string]*slot
}

// NewEngine validates and builds the channel mapping. Construction fails if
// a light appears twice in one channel's accumulated rule list; the same
// light on different channels is fine. A nil scheduler selects wall-clock
// timers.
func NewEngine(driver lights.Driver, groups []ChannelGroup, sched Scheduler) (*Engine, error) {
	if sched == nil {
		sched = wallScheduler{}
	}

	mapping := make(map[int][]LightRule)
	for _, group := range groups {
		for _, ch := range group.Channels {
			mapping[ch] = append(mapping[ch], group.Lights...)
		}
	}

	// Uniqueness is per channel only: one channel must not drive the same
	// light through two rules, but two channels may share a light.
	for ch, rules := range mapping {
		seen := make(map[string]bool, len(rules))
		for _, rule := range rules {
			if seen[rule.Light] {
				return nil, fmt.Errorf("presence: duplicate light %q in channel %d", rule.Light, ch)
			}
			seen[rule.Light] = true
		}
	}

	slots := make(map[string]*slot)
	for _, rules := range mapping {
		for _, rule := range rules {
			if slots[rule.Light] == nil {
				slots[rule.Light] = &slot{}
			}
		}
	}

	log.Printf("[INFO] presence: %d channels mapped to %d lights", len(mapping), len(slots))
	return &Engine{driver: driver, sched: sched, mapping: mapping, slots: slots}, nil
}

// HandleEvent evaluates one stream event. Unknown channels and non-motion
// event types are ignored without error; both are expected traffic.
func (e *Engine) HandleEvent(ev isapi.Event) {
	channelID, err := strconv.Atoi(ev[isapi.FieldChannelID])
	if err != nil {
		log.Printf("[WARN] presence: event without usable channelID (%q), ignoring", ev[isapi.FieldChannelID])
		return
	}

	rules, ok := e.mapping[channelID]
	if !ok {
		return
	}

	if ev[isapi.FieldEventType] != isapi.EventTypeMotion {
		return
	}

	motionTime, err := parseMotionTime(ev[isapi.FieldDateTime])
	if err != nil {
		log.Printf("[WARN] presence: channel %d: %v, ignoring event", channelID, err)
		return
	}
	log.Printf("[INFO] presence: motion on channel %d at %04d", channelID, motionTime)

	for _, rule := range rules {
		if len(rule.ActiveTime) == 0 {
			e.TurnOn(rule.Light, rule.Duration)
			continue
		}
		matched := false
		for _, w := range rule.ActiveTime {
			if w.Start <= motionTime && motionTime <= w.End {
				matched = true
				e.TurnOn(rule.Light, rule.Duration)
				break
			}
		}
		if !matched {
			log.Printf("[INFO] presence: outside active time for light %s on channel %d", rule.Light, channelID)
		}
	}
}

// parseMotionTime extracts the HHMM time of day from an ISO-8601-ish
// dateTime such as "2024-03-02T18:40:07+01:00".
func parseMotionTime(dateTime string) (int, error) {
	_, clock, ok := strings.Cut(dateTime, "T")
	if !ok {
		return 0, fmt.Errorf("dateTime %q has no time component", dateTime)
	}
	clock = strings.ReplaceAll(clock, ":", "")
	if len(clock) < 4 {
		return 0, fmt.Errorf("dateTime %q has a truncated time component", dateTime)
	}
	t, err := strconv.Atoi(clock[:4])
	if err != nil || t < 0 || t > 2359 {
		return 0, fmt.Errorf("dateTime %q has an invalid time component", dateTime)
	}
	return t, nil
}

// TurnOn switches the light on unless a live timer marks it already on, then
// (re)arms the auto-off timer. A driver failure aborts before any timer is
// set, so the next trigger retries the hardware call instead of believing
// the light is on.
func (e *Engine) TurnOn(light string, durationSeconds int) {
	sl, ok := e.slots[light]
	if !ok {
		return
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.timer == nil {
		if err := e.driver.TurnOn(light); err != nil {
			metrics.DriverErrors.WithLabelValues("on").Inc()
			log.Printf("[ERROR] presence: turn on %s: %v", light, err)
			return
		}
		metrics.LightSwitches.WithLabelValues("on").Inc()
	}

	if durationSeconds > 0 {
		e.armLocked(sl, light, durationSeconds)
	}
}

// armLocked cancels any pending timer and schedules a fresh auto-off:
// repeated motion extends the on-period rather than stacking turn-offs.
// Caller holds sl.mu.
func (e *Engine) armLocked(sl *slot, light string, durationSeconds int) {
	if sl.timer != nil {
		sl.timer.Cancel()
		log.Printf("[INFO] presence: extended timer for light %s", light)
	} else {
		metrics.TimersActive.Inc()
	}

	sl.gen++
	gen := sl.gen
	delay := time.Duration(durationSeconds) * time.Second
	sl.timer = e.sched.Schedule(delay, func() { e.expire(light, gen) })
	sl.offAt = time.Now().Add(delay)
	sl.dur = durationSeconds
}

// expire is the timer callback. The generation check drops expiries that
// lost the race against a concurrent rearm, so a cancel that arrived too
// late cannot turn off a freshly extended light.
func (e *Engine) expire(light string, gen uint64) {
	sl := e.slots[light]

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.timer == nil || sl.gen != gen {
		return
	}
	e.turnOffLocked(sl, light)
}

// turnOffLocked switches the light off (best effort) and clears the slot so
// the next trigger issues a fresh turn-on. Caller holds sl.mu.
func (e *Engine) turnOffLocked(sl *slot, light string) {
	log.Printf("[INFO] presence: turning off light %s", light)
	if err := e.driver.TurnOff(light); err != nil {
		metrics.DriverErrors.WithLabelValues("off").Inc()
		log.Printf("[ERROR] presence: turn off %s: %v", light, err)
	} else {
		metrics.LightSwitches.WithLabelValues("off").Inc()
	}
	sl.timer = nil
	sl.offAt = time.Time{}
	sl.dur = 0
	metrics.TimersActive.Dec()
}

// Shutdown cancels all pending timers without switching anything; light
// state on the hardware is left as-is.
func (e *Engine) Shutdown() {
	for _, sl := range e.slots {
		sl.mu.Lock()
		if sl.timer != nil {
			sl.timer.Cancel()
			sl.timer = nil
			metrics.TimersActive.Dec()
		}
		sl.mu.Unlock()
	}
}

// Mapping returns a copy of the effective channel→rules mapping for the API.
func (e *Engine) Mapping() map[int][]LightRule {
	out := make(map[int][]LightRule, len(e.mapping))
	for ch, rules := range e.mapping {
		out[ch] = append([]LightRule(nil), rules...)
	}
	return out
}

// LightStates reports each light slot. A light is "on" here when it holds a
// live timer; duration-0 lights switch on without one and read as off, which
// mirrors how TurnOn treats them.
func (e *Engine) LightStates() map[string]LightState {
	out := make(map[string]LightState, len(e.slots))
	for light, sl := range e.slots {
		sl.mu.Lock()
		out[light] = LightState{On: sl.timer != nil, OffAt: sl.offAt, Duration: sl.dur}
		sl.mu.Unlock()
	}
	return out
}

// Lights returns the distinct light names in the mapping, sorted.
func (e *Engine) Lights() []string {
	out := make([]string, 0, len(e.slots))
	for light := range e.slots {
		out = append(out, light)
	}
	sort.Strings(out)
	return out
}
