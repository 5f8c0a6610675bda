package browser

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
)

// Pointer timing follows Fitts's law: MT = a + b*log2(1 + D/W), jittered so
// no two moves take the same time.
const (
	fittsInterceptMs = 100.0
	fittsSlopeMs     = 150.0
	fittsTargetWidth = 30.0

	moveEventsPerSecond = 100

	clickHoldMinMs = 45.0
	clickHoldMaxMs = 150.0

	keyFlightMeanMs   = 70.0
	keyFlightStdDevMs = 28.0
	keyFlightMinMs    = 35.0
)

// Letter pairs trained typists roll through faster than unrelated keys.
var fastDigraphs = map[string]bool{
	"th": true, "he": true, "in": true, "er": true, "an": true,
	"re": true, "es": true, "on": true, "st": true, "nt": true,
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// elementBox is the viewport rectangle of a DOM element, as reported by
// getBoundingClientRect.
type elementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// motion drives humanized pointer and keyboard input for one session. The
// pointer position persists across operations, so each glide starts where the
// previous one ended.
type motion struct {
	mu  sync.Mutex
	rng *rand.Rand
	pos point
}

func newMotion() *motion {
	return &motion{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// easeInOutCubic maps linear progress onto an accelerate-then-brake profile.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// moveDuration estimates how long a hand takes to cover dist pixels.
func (m *motion) moveDuration(dist float64) time.Duration {
	id := math.Log2(1.0 + dist/fittsTargetWidth)
	mt := fittsInterceptMs + fittsSlopeMs*id

	m.mu.Lock()
	mt += mt * (m.rng.Float64()*0.3 - 0.15)
	m.mu.Unlock()

	return time.Duration(mt) * time.Millisecond
}

// pointerPath samples a cubic Bezier from start to end. The control points
// are pushed sideways so the cursor bows instead of traveling a perfect line;
// the bow's side and depth are randomized per move.
func (m *motion) pointerPath(start, end point, steps int) []point {
	dx := end.X - start.X
	dy := end.Y - start.Y
	dist := math.Hypot(dx, dy)
	if steps < 2 || dist < 1 {
		return []point{end}
	}

	px, py := -dy/dist, dx/dist
	m.mu.Lock()
	bow := (m.rng.Float64()*0.14 + 0.04) * dist
	if m.rng.Intn(2) == 0 {
		bow = -bow
	}
	m.mu.Unlock()

	c1 := point{X: start.X + dx/3 + px*bow, Y: start.Y + dy/3 + py*bow}
	c2 := point{X: start.X + 2*dx/3 + px*bow*0.6, Y: start.Y + 2*dy/3 + py*bow*0.6}

	path := make([]point, steps)
	for i := range path {
		t := float64(i) / float64(steps-1)
		omt := 1 - t
		b0 := omt * omt * omt
		b1 := 3 * omt * omt * t
		b2 := 3 * omt * t * t
		b3 := t * t * t
		path[i] = point{
			X: b0*start.X + b1*c1.X + b2*c2.X + b3*end.X,
			Y: b0*start.Y + b1*c1.Y + b2*c2.Y + b3*end.Y,
		}
	}
	return path
}

// tremor adds sub-pixel noise so samples never sit exactly on the curve.
func (m *motion) tremor(p point) point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return point{
		X: p.X + m.rng.NormFloat64()*0.6,
		Y: p.Y + m.rng.NormFloat64()*0.6,
	}
}

// aimPoint picks a landing point inside the element box. Real clicks cluster
// near the center, so the offset is gaussian and clamped to stay well inside
// the edges.
func (m *motion) aimPoint(box elementBox) point {
	m.mu.Lock()
	offX := m.rng.NormFloat64() * box.Width / 8
	offY := m.rng.NormFloat64() * box.Height / 8
	m.mu.Unlock()

	offX = clampOffset(offX, box.Width*0.35)
	offY = clampOffset(offY, box.Height*0.35)
	return point{X: box.X + box.Width/2 + offX, Y: box.Y + box.Height/2 + offY}
}

func clampOffset(v, limit float64) float64 {
	if limit < 0 {
		limit = 0
	}
	return math.Max(-limit, math.Min(limit, v))
}

// glide moves the pointer from its last position to target along the bowed
// path, dispatching mouseMoved events so arrival times follow the easing
// profile.
func (m *motion) glide(ctx context.Context, target point) error {
	m.mu.Lock()
	start := m.pos
	m.mu.Unlock()

	dist := math.Hypot(target.X-start.X, target.Y-start.Y)
	duration := m.moveDuration(dist)
	steps := int(duration.Seconds() * moveEventsPerSecond)
	if steps < 2 {
		steps = 2
	}
	path := m.pointerPath(start, target, steps)

	began := time.Now()
	for i, pt := range path {
		t := float64(i) / float64(len(path)-1)
		due := began.Add(time.Duration(easeInOutCubic(t) * float64(duration)))
		if err := pause(ctx, time.Until(due)); err != nil {
			return err
		}

		pos := m.tremor(pt)
		if i == len(path)-1 {
			// Land exactly on the aim point.
			pos = target
		}
		if err := chromedp.MouseEvent(input.MouseMoved, pos.X, pos.Y).Do(ctx); err != nil {
			return err
		}

		m.mu.Lock()
		m.pos = pos
		m.mu.Unlock()
	}
	return nil
}

// click glides to target, settles, then presses and releases the left button
// with a natural hold in between.
func (m *motion) click(ctx context.Context, target point) error {
	if err := m.glide(ctx, target); err != nil {
		return err
	}
	if err := pause(ctx, m.settleDelay()); err != nil {
		return err
	}

	press := chromedp.MouseEvent(input.MousePressed, target.X, target.Y,
		chromedp.Button("left"), chromedp.ClickCount(1))
	if err := press.Do(ctx); err != nil {
		return err
	}
	if err := pause(ctx, m.holdDelay()); err != nil {
		return err
	}
	release := chromedp.MouseEvent(input.MouseReleased, target.X, target.Y,
		chromedp.Button("left"), chromedp.ClickCount(1))
	return release.Do(ctx)
}

// settleDelay is the pause between arriving on target and committing the
// press.
func (m *motion) settleDelay() time.Duration {
	m.mu.Lock()
	ms := m.rng.NormFloat64()*25 + 80
	m.mu.Unlock()
	if ms < 40 {
		ms = 40
	}
	return time.Duration(ms) * time.Millisecond
}

// holdDelay is how long the button stays down, skewed toward shorter clicks.
func (m *motion) holdDelay() time.Duration {
	mean := (clickHoldMinMs + clickHoldMaxMs) / 2 * 0.9
	stdDev := (clickHoldMaxMs - clickHoldMinMs) / 5

	m.mu.Lock()
	ms := m.rng.NormFloat64()*stdDev + mean
	m.mu.Unlock()

	ms = math.Max(clickHoldMinMs, math.Min(clickHoldMaxMs, ms))
	return time.Duration(ms) * time.Millisecond
}

// keyDelay is the flight time before the next key, shortened when the pair
// forms a digraph typists roll through.
func (m *motion) keyDelay(prev, curr rune) time.Duration {
	factor := 1.0
	if prev != 0 && fastDigraphs[strings.ToLower(string([]rune{prev, curr}))] {
		factor = 0.7
	}

	m.mu.Lock()
	ms := m.rng.NormFloat64()*keyFlightStdDevMs + keyFlightMeanMs*factor
	m.mu.Unlock()

	if min := keyFlightMinMs * factor; ms < min {
		ms = min
	}
	return time.Duration(ms) * time.Millisecond
}

// typeRunes sends text one key event at a time on a human cadence. The target
// element must already hold focus.
func (m *motion) typeRunes(ctx context.Context, text string) error {
	var prev rune
	for _, r := range text {
		if err := pause(ctx, m.keyDelay(prev, r)); err != nil {
			return err
		}
		if err := chromedp.KeyEvent(string(r)).Do(ctx); err != nil {
			return err
		}
		prev = r
	}
	return nil
}
