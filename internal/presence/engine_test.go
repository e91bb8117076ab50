package presence

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-presence/internal/isapi"
)

// fakeDriver records switch calls and can be told to fail.
type fakeDriver struct {
	mu       sync.Mutex
	onCalls  []string
	offCalls []string
	onErr    error
}

func (d *fakeDriver) TurnOn(light string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onErr != nil {
		return d.onErr
	}
	d.onCalls = append(d.onCalls, light)
	return nil
}

func (d *fakeDriver) TurnOff(light string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offCalls = append(d.offCalls, light)
	return nil
}

func (d *fakeDriver) GetStatus(light string) (bool, error) { return false, nil }

func (d *fakeDriver) ons() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.onCalls...)
}

func (d *fakeDriver) offs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.offCalls...)
}

// fakeScheduler hands out timers that only fire when the test says so.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay    time.Duration
	action   func()
	canceled bool
}

func (s *fakeScheduler) Schedule(delay time.Duration, action func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft := &fakeTimer{delay: delay, action: action}
	s.timers = append(s.timers, ft)
	return ft
}

func (t *fakeTimer) Cancel() bool {
	t.canceled = true
	return true
}

// fire runs the timer's action the way time.AfterFunc would.
func (t *fakeTimer) fire() { t.action() }

func motionEvent(channel int, clock string) isapi.Event {
	return isapi.Event{
		isapi.FieldChannelID: fmt.Sprint(channel),
		isapi.FieldEventType: "VMD",
		isapi.FieldDateTime:  "2024-03-02T" + clock + "+01:00",
	}
}

func newTestEngine(t *testing.T, groups []ChannelGroup) (*Engine, *fakeDriver, *fakeScheduler) {
	t.Helper()
	driver := &fakeDriver{}
	sched := &fakeScheduler{}
	engine, err := NewEngine(driver, groups, sched)
	require.NoError(t, err)
	return engine, driver, sched
}

func singleRuleGroups(rule LightRule) []ChannelGroup {
	return []ChannelGroup{{Channels: []int{1}, Lights: []LightRule{rule}}}
}

func TestNewEngineDuplicateLightSameChannel(t *testing.T) {
	_, err := NewEngine(&fakeDriver{}, []ChannelGroup{{
		Channels: []int{1},
		Lights: []LightRule{
			{Light: "hall", Duration: 45},
			{Light: "hall", Duration: 120},
		},
	}}, &fakeScheduler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate light "hall" in channel 1`)
}

func TestNewEngineDuplicateLightAcrossGroups(t *testing.T) {
	// Two groups that both feed channel 2 accumulate into one rule list, so
	// the duplicate is still rejected.
	_, err := NewEngine(&fakeDriver{}, []ChannelGroup{
		{Channels: []int{2}, Lights: []LightRule{{Light: "hall", Duration: 45}}},
		{Channels: []int{2, 3}, Lights: []LightRule{{Light: "hall", Duration: 60}}},
	}, &fakeScheduler{})
	require.Error(t, err)
}

func TestNewEngineSameLightDifferentChannels(t *testing.T) {
	engine, err := NewEngine(&fakeDriver{}, []ChannelGroup{
		{Channels: []int{1}, Lights: []LightRule{{Light: "hall", Duration: 45}}},
		{Channels: []int{2}, Lights: []LightRule{{Light: "hall", Duration: 45}}},
	}, &fakeScheduler{})
	require.NoError(t, err)
	assert.Equal(t, []string{"hall"}, engine.Lights())
}

func TestHandleEventUnknownChannel(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	engine.HandleEvent(motionEvent(99, "12:00:00"))

	assert.Empty(t, driver.ons())
	assert.Empty(t, sched.timers)
}

func TestHandleEventNonMotionIgnored(t *testing.T) {
	engine, driver, _ := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	ev := motionEvent(1, "12:00:00")
	ev[isapi.FieldEventType] = "videoloss"
	engine.HandleEvent(ev)

	assert.Empty(t, driver.ons())
}

func TestHandleEventActiveTimeInclusiveBounds(t *testing.T) {
	rule := LightRule{Light: "hall", Duration: 45, ActiveTime: []Window{{Start: 0, End: 800}}}

	cases := []struct {
		clock   string
		trigger bool
	}{
		{"00:00:00", true},
		{"08:00:59", true},
		{"08:01:00", false},
		{"23:59:00", false},
	}
	for _, tc := range cases {
		engine, driver, _ := newTestEngine(t, singleRuleGroups(rule))
		engine.HandleEvent(motionEvent(1, tc.clock))
		if tc.trigger {
			assert.Equal(t, []string{"hall"}, driver.ons(), "clock %s", tc.clock)
		} else {
			assert.Empty(t, driver.ons(), "clock %s", tc.clock)
		}
	}
}

func TestHandleEventFirstMatchingWindowWins(t *testing.T) {
	rule := LightRule{Light: "hall", Duration: 45, ActiveTime: []Window{
		{Start: 0, End: 1200},
		{Start: 1100, End: 2359},
	}}
	engine, driver, sched := newTestEngine(t, singleRuleGroups(rule))

	// 11:30 falls in both windows; the light triggers exactly once.
	engine.HandleEvent(motionEvent(1, "11:30:00"))
	assert.Equal(t, []string{"hall"}, driver.ons())
	assert.Len(t, sched.timers, 1)
}

func TestHandleEventNoWindowsAlwaysTriggers(t *testing.T) {
	engine, driver, _ := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))
	engine.HandleEvent(motionEvent(1, "03:17:00"))
	assert.Equal(t, []string{"hall"}, driver.ons())
}

func TestTurnOnIdempotentWhileTimerLive(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	engine.HandleEvent(motionEvent(1, "12:00:00"))
	engine.HandleEvent(motionEvent(1, "12:00:10"))

	// One hardware call, but the timer was rearmed.
	assert.Equal(t, []string{"hall"}, driver.ons())
	require.Len(t, sched.timers, 2)
	assert.True(t, sched.timers[0].canceled)
	assert.False(t, sched.timers[1].canceled)
}

func TestTimerExtensionNotStacking(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	engine.HandleEvent(motionEvent(1, "12:00:00"))
	engine.HandleEvent(motionEvent(1, "12:00:10"))
	require.Len(t, sched.timers, 2)

	// The canceled first timer may still race its way to firing; the
	// generation check must make it a no-op.
	sched.timers[0].fire()
	assert.Empty(t, driver.offs())

	// Only the second timer's expiry turns the light off.
	sched.timers[1].fire()
	assert.Equal(t, []string{"hall"}, driver.offs())

	// After expiry the light reads off and a new event switches it on again.
	engine.HandleEvent(motionEvent(1, "12:05:00"))
	assert.Equal(t, []string{"hall", "hall"}, driver.ons())
}

func TestStaleExpiryAfterRearmIsDropped(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	engine.HandleEvent(motionEvent(1, "12:00:00"))
	engine.HandleEvent(motionEvent(1, "12:00:10"))
	sched.timers[0].fire()

	states := engine.LightStates()
	assert.True(t, states["hall"].On, "light must stay on after a stale expiry")
	assert.Empty(t, driver.offs())
}

func TestZeroDurationNoTimer(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 0}))

	engine.HandleEvent(motionEvent(1, "12:00:00"))
	assert.Equal(t, []string{"hall"}, driver.ons())
	assert.Empty(t, sched.timers)

	// No timer means the slot reads off, so the next event repeats the
	// hardware call rather than assuming the light is still on.
	engine.HandleEvent(motionEvent(1, "12:01:00"))
	assert.Equal(t, []string{"hall", "hall"}, driver.ons())
}

func TestTurnOnDriverFailureLeavesSlotRetryable(t *testing.T) {
	engine, driver, sched := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	driver.onErr = errors.New("switch unreachable")
	engine.HandleEvent(motionEvent(1, "12:00:00"))

	// Failed turn-on must not arm a timer: the engine would otherwise
	// believe the light is on and skip the retry.
	assert.Empty(t, sched.timers)
	assert.False(t, engine.LightStates()["hall"].On)

	driver.onErr = nil
	engine.HandleEvent(motionEvent(1, "12:00:30"))
	assert.Equal(t, []string{"hall"}, driver.ons())
	assert.Len(t, sched.timers, 1)
}

func TestHandleEventBadChannelID(t *testing.T) {
	engine, driver, _ := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	engine.HandleEvent(isapi.Event{isapi.FieldEventType: "VMD"})
	engine.HandleEvent(isapi.Event{isapi.FieldChannelID: "x", isapi.FieldEventType: "VMD"})
	assert.Empty(t, driver.ons())
}

func TestHandleEventBadDateTime(t *testing.T) {
	engine, driver, _ := newTestEngine(t, singleRuleGroups(LightRule{Light: "hall", Duration: 45}))

	ev := isapi.Event{
		isapi.FieldChannelID: "1",
		isapi.FieldEventType: "VMD",
		isapi.FieldDateTime:  "20240302 184007",
	}
	engine.HandleEvent(ev)
	assert.Empty(t, driver.ons())
}

func TestMultipleLightsPerChannel(t *testing.T) {
	groups := []ChannelGroup{{
		Channels: []int{1},
		Lights: []LightRule{
			{Light: "hall", Duration: 45},
			{Light: "porch", Duration: 120, ActiveTime: []Window{{Start: 1600, End: 2400}}},
		},
	}}

	// 18:00 is inside the porch window, so both lights trigger.
	engine, driver, _ := newTestEngine(t, groups)
	engine.HandleEvent(motionEvent(1, "18:00:00"))
	assert.Equal(t, []string{"hall", "porch"}, driver.ons())

	// 12:00 only triggers the unconditional hall rule.
	engine, driver, _ = newTestEngine(t, groups)
	engine.HandleEvent(motionEvent(1, "12:00:00"))
	assert.Equal(t, []string{"hall"}, driver.ons())
}

func TestParseMotionTime(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"2024-03-02T18:40:07+01:00", 1840, true},
		{"2024-03-02T00:00:00Z", 0, true},
		{"2024-03-02T08:00:59", 800, true},
		{"2024-03-02", 0, false},
		{"2024-03-02T9", 0, false},
	}
	for _, tc := range cases {
		got, err := parseMotionTime(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}
