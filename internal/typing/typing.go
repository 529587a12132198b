// Package typing converts a target string into a stream of Injector
// commands that type it with ~8% human-like errors, using two error
// archetypes: a wrong, plausibly-adjacent character that gets
// backspaced and corrected, and a swapped adjacent pair that gets
// double-backspaced and corrected.
package typing

import (
	"fmt"
	"math/rand"
	"time"
	"unicode"
)

// errorRate is the approximate (not exact — no smoothing, no per-word
// quota) fraction of positions that get an error archetype applied.
const errorRate = 0.08

// Sender emits one command line to the Injector, in order.
type Sender interface {
	Send(line string)
}

// Sleeper abstracts time.Sleep for tests.
type Sleeper func(time.Duration)

// Generator drives the typing program for one FILL_FIELD attempt.
type Generator struct {
	link  Sender
	sleep Sleeper
	rand  *rand.Rand
}

// New returns a Generator writing through link.
func New(link Sender) *Generator {
	return &Generator{
		link:  link,
		sleep: time.Sleep,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Type emits the command stream for text, interleaving the two typo
// archetypes at approximately errorRate.
func (g *Generator) Type(text string) {
	runes := []rune(text)
	words := wordBoundaries(runes)

	i := 0
	for i < len(runes) {
		if i+1 < len(runes) && !unicode.IsSpace(runes[i]) && !unicode.IsSpace(runes[i+1]) && g.rand.Float64() < errorRate {
			g.swappedPair(runes[i], runes[i+1])
			i += 2
			continue
		}
		if g.rand.Float64() < errorRate {
			if wrong, ok := plausibleAdjacent(runes, words, i, g.rand); ok {
				g.wrongCharacter(wrong, runes[i])
				i++
				continue
			}
		}
		g.emit(runes[i])
		i++
		g.sleep(jitterMs(g.rand, 35, 70))
	}
}

// emit sends r as a single TYPE,c command. Every character, whitespace
// included, goes out as TYPE; no character is mapped to a named KEY.
func (g *Generator) emit(r rune) {
	g.link.Send(fmt.Sprintf("TYPE,%c", r))
}

// wrongCharacter emits a plausibly-adjacent wrong character, pauses,
// backspaces it, pauses, then emits the correct character.
func (g *Generator) wrongCharacter(wrong, correct rune) {
	g.emit(wrong)
	g.sleep(jitterMs(g.rand, 150, 500))
	g.link.Send("KEY,Backspace")
	g.sleep(jitterMs(g.rand, 80, 160))
	g.emit(correct)
}

// swappedPair emits the next two characters in reversed order, pauses,
// backspaces both, pauses, then emits them correctly.
func (g *Generator) swappedPair(a, b rune) {
	g.emit(b)
	g.emit(a)
	g.sleep(jitterMs(g.rand, 200, 500))
	g.link.Send("KEY,Backspace")
	g.sleep(jitterMs(g.rand, 30, 60))
	g.link.Send("KEY,Backspace")
	g.sleep(jitterMs(g.rand, 200, 500))
	g.emit(a)
	g.sleep(jitterMs(g.rand, 30, 60))
	g.emit(b)
}

// wordBoundaries returns, for each index, the [start,end) run of the
// current word (a maximal run of non-space runes containing it), or
// (i,i) if runes[i] is itself whitespace.
func wordBoundaries(runes []rune) [][2]int {
	bounds := make([][2]int, len(runes))
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			bounds[i] = [2]int{i, i}
			i++
			continue
		}
		start := i
		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		for j := start; j < i; j++ {
			bounds[j] = [2]int{start, i}
		}
	}
	return bounds
}

// plausibleAdjacent picks a letter from the current word other than
// the correct one and other than whitespace.
func plausibleAdjacent(runes []rune, words [][2]int, i int, r *rand.Rand) (rune, bool) {
	start, end := words[i][0], words[i][1]
	if end-start < 2 {
		return 0, false
	}
	correct := runes[i]
	candidates := make([]rune, 0, end-start)
	for j := start; j < end; j++ {
		if runes[j] != correct && !unicode.IsSpace(runes[j]) {
			candidates = append(candidates, runes[j])
		}
	}
	if len(candidates) == 0 {
		return 0, false
	}
	return candidates[r.Intn(len(candidates))], true
}

func jitterMs(r *rand.Rand, loMs, hiMs int) time.Duration {
	d := loMs + r.Intn(hiMs-loMs+1)
	return time.Duration(d) * time.Millisecond
}
