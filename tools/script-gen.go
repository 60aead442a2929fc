// script-gen generates synthetic replay scripts for exercising the tap
// dances, the composite shift engine and the chatter detector without a
// physical keyboard.
//
// Usage:
//
//	go run tools/script-gen.go -output typing.json -count 200
//	go run tools/script-gen.go -output bouncy.json -profile worn-switch
//	go run tools/script-gen.go -output dances.json -profile dancer -seed 7
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"keydance/internal/keycode"
	"keydance/internal/scanner"
	"keydance/internal/tick"
)

// TypingProfile defines parameters for simulating different typing behaviors.
type TypingProfile struct {
	Name              string
	Description       string
	MedianIntervalMs  float64 // Median time between key presses
	IntervalStdDevMs  float64
	HoldMedianMs      float64 // Median time a key stays down
	DanceProbability  float64 // Chance the next gesture is a tap dance
	ShiftProbability  float64 // Chance the next gesture involves Shift
	BounceProbability float64 // Chance a press bounces
	BounceMaxMs       float64 // Largest gap inside a bounce
	PauseProbability  float64
	PauseMaxMs        float64
}

var profiles = map[string]TypingProfile{
	"normal": {
		Name:              "Normal Typist",
		Description:       "Plain typing with the odd shifted letter and tap dance",
		MedianIntervalMs:  180,
		IntervalStdDevMs:  90,
		HoldMedianMs:      90,
		DanceProbability:  0.03,
		ShiftProbability:  0.08,
		BounceProbability: 0,
		PauseProbability:  0.04,
		PauseMaxMs:        3000,
	},
	"fast-typist": {
		Name:              "Fast Typist",
		Description:       "Quick, overlapping keystrokes close to the tapping term",
		MedianIntervalMs:  90,
		IntervalStdDevMs:  40,
		HoldMedianMs:      70,
		DanceProbability:  0.05,
		ShiftProbability:  0.12,
		BounceProbability: 0,
		PauseProbability:  0.02,
		PauseMaxMs:        1500,
	},
	"dancer": {
		Name:              "Tap Dancer",
		Description:       "Mostly Right Alt / Right Ctrl dances and Shift double taps",
		MedianIntervalMs:  250,
		IntervalStdDevMs:  120,
		HoldMedianMs:      80,
		DanceProbability:  0.6,
		ShiftProbability:  0.3,
		BounceProbability: 0,
		PauseProbability:  0.05,
		PauseMaxMs:        2000,
	},
	"worn-switch": {
		Name:              "Worn Switch",
		Description:       "Normal typing on a keyboard whose switches chatter",
		MedianIntervalMs:  180,
		IntervalStdDevMs:  90,
		HoldMedianMs:      90,
		DanceProbability:  0.02,
		ShiftProbability:  0.05,
		BounceProbability: 0.1,
		BounceMaxMs:       12,
		PauseProbability:  0.04,
		PauseMaxMs:        3000,
	},
}

var letters = []keycode.KeyID{
	16, 17, 18, 19, 20, 21, 22, 23, 24, 25, // q..p
	30, 31, 32, 33, 34, 35, 36, 37, 38, // a..l
	44, 45, 46, 47, 48, 49, 50, // z..m
	keycode.Space,
}

type generator struct {
	rng     *rand.Rand
	profile TypingProfile
	now     int64
	events  []timed
	bounces int
	dances  int
}

// timed keeps an absolute millisecond time so overlapping gestures can be
// sorted before conversion to ticks.
type timed struct {
	at      int64
	key     keycode.KeyID
	pressed bool
}

func main() {
	var (
		outputPath   = flag.String("output", "script.json", "Output file path")
		gestureCount = flag.Int("count", 100, "Number of gestures to generate")
		profileName  = flag.String("profile", "normal", "Typing profile to use")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listProfiles = flag.Bool("list", false, "List available profiles")
	)
	flag.Parse()

	if *listProfiles {
		fmt.Println("Available profiles:")
		names := make([]string, 0, len(profiles))
		for name := range profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %s\n", name, profiles[name].Description)
		}
		os.Exit(0)
	}

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile: %s\n", *profileName)
		fmt.Fprintf(os.Stderr, "Use -list to see available profiles\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	g := &generator{rng: rand.New(rand.NewSource(*seed)), profile: profile}

	fmt.Printf("Generating %d gestures with profile: %s\n", *gestureCount, profile.Name)
	fmt.Printf("Random seed: %d\n", *seed)

	for i := 0; i < *gestureCount; i++ {
		g.gesture()
	}
	events := g.keyEvents()

	desc := fmt.Sprintf("script-gen profile=%s seed=%d", *profileName, *seed)
	if err := scanner.NewScript(desc, events).Save(*outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d events to %s\n", len(events), *outputPath)
	g.printStats()
}

func (g *generator) add(at int64, key keycode.KeyID, pressed bool) {
	g.events = append(g.events, timed{at: at, key: key, pressed: pressed})
}

func (g *generator) hold() int64 {
	return int64(math.Max(15, logNormalSample(g.rng, g.profile.HoldMedianMs, g.profile.HoldMedianMs/2)))
}

// tap presses and releases key starting at g.now, possibly bouncing, and
// returns the release time.
func (g *generator) tap(key keycode.KeyID) int64 {
	start := g.now
	g.add(start, key, true)
	if g.rng.Float64() < g.profile.BounceProbability {
		g.bounces++
		t := start
		for i := 0; i < 2; i++ {
			t += 1 + int64(g.rng.Float64()*g.profile.BounceMaxMs)
			g.add(t, key, false)
			t += 1 + int64(g.rng.Float64()*g.profile.BounceMaxMs)
			g.add(t, key, true)
		}
		start = t
	}
	end := start + g.hold()
	g.add(end, key, false)
	return end
}

func (g *generator) gesture() {
	var interval float64
	if g.rng.Float64() < g.profile.PauseProbability {
		interval = g.profile.MedianIntervalMs + g.rng.Float64()*g.profile.PauseMaxMs
	} else {
		interval = logNormalSample(g.rng, g.profile.MedianIntervalMs, g.profile.IntervalStdDevMs)
	}
	g.now += int64(interval)

	r := g.rng.Float64()
	switch {
	case r < g.profile.DanceProbability:
		g.dance()
	case r < g.profile.DanceProbability+g.profile.ShiftProbability:
		g.shift()
	default:
		// Keys overlap slightly, as in real rollover typing.
		end := g.tap(letters[g.rng.Intn(len(letters))])
		g.now = end - int64(g.rng.Float64()*float64(end-g.now)/2)
	}
}

// dance taps Right Alt or Right Ctrl one to three times inside the
// tapping term, sometimes holding the last press.
func (g *generator) dance() {
	g.dances++
	key := keycode.RightAlt
	if g.rng.Intn(2) == 0 {
		key = keycode.RightCtrl
	}
	taps := 1 + g.rng.Intn(3)
	for i := 0; i < taps; i++ {
		end := g.tap(key)
		g.now = end + 30 + int64(g.rng.Float64()*60)
	}
	if key == keycode.RightCtrl && taps == 1 && g.rng.Intn(2) == 0 {
		// Hold past the term with a letter under it.
		g.now += 250
		g.add(g.now, key, true)
		g.now += 40
		end := g.tap(letters[g.rng.Intn(len(letters))])
		g.add(end+30, key, false)
		g.now = end + 30
	}
	g.now += 250
}

// shift either types a shifted letter or double taps a shift key.
func (g *generator) shift() {
	key := keycode.LeftShift
	if g.rng.Intn(3) == 0 {
		key = keycode.RightShift
	}
	if g.rng.Intn(4) == 0 {
		g.dances++
		for i := 0; i < 2; i++ {
			end := g.tap(key)
			g.now = end + 40 + int64(g.rng.Float64()*50)
		}
		g.now += 250
		return
	}
	g.add(g.now, key, true)
	g.now += 30
	end := g.tap(letters[g.rng.Intn(len(letters))])
	g.add(end+20, key, false)
	g.now = end + 20
}

func (g *generator) keyEvents() []keycode.Event {
	sort.SliceStable(g.events, func(i, j int) bool { return g.events[i].at < g.events[j].at })
	out := make([]keycode.Event, len(g.events))
	for i, e := range g.events {
		out[i] = keycode.Event{Key: e.key, Pressed: e.pressed, Time: tick.Tick(uint64(e.at))}
	}
	return out
}

// logNormalSample generates a sample from a log-normal distribution.
func logNormalSample(rng *rand.Rand, median, stdDev float64) float64 {
	mu := math.Log(median)
	sigma := math.Log(1 + stdDev/median)
	if sigma < 0.1 {
		sigma = 0.1
	}

	// Box-Muller transform
	u1 := rng.Float64()
	u2 := rng.Float64()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

	return math.Exp(mu + sigma*z)
}

func (g *generator) printStats() {
	if len(g.events) < 2 {
		return
	}
	presses := 0
	for _, e := range g.events {
		if e.pressed {
			presses++
		}
	}
	span := g.events[len(g.events)-1].at - g.events[0].at

	fmt.Println("\nStatistics:")
	fmt.Printf("  Total events:     %d\n", len(g.events))
	fmt.Printf("  Presses:          %d\n", presses)
	fmt.Printf("  Time span:        %.1f seconds\n", float64(span)/1000)
	fmt.Printf("  Dances:           %d\n", g.dances)
	fmt.Printf("  Bounced presses:  %d\n", g.bounces)
}
