package action

import (
	"errors"
	"testing"
	"time"

	"github.com/hidcoord/coordinator/internal/motion"
	"github.com/hidcoord/coordinator/internal/probewire"
	"github.com/hidcoord/coordinator/internal/statestore"
)

// fakeProber answers Query calls from a queue of canned responses,
// falling back to repeating the last one once the queue is drained.
type fakeProber struct {
	responses []probewire.CoordResponse
	errs      []error
	calls     int
}

func (f *fakeProber) Query(selector, labelText string) (probewire.CoordResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return probewire.CoordResponse{}, f.errs[i]
	}
	if i >= len(f.responses) {
		if len(f.responses) == 0 {
			return probewire.CoordResponse{}, errors.New("fakeProber: no responses configured")
		}
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[i], nil
}

type fakeMover struct {
	calls int
	err   error
}

func (f *fakeMover) MoveTo(target statestore.Point, profile motion.Profile) error {
	f.calls++
	return f.err
}

type fakeTyper struct {
	texts []string
}

func (f *fakeTyper) Type(text string) {
	f.texts = append(f.texts, text)
}

type fakeSender struct {
	lines []string
}

func (f *fakeSender) Send(line string) {
	f.lines = append(f.lines, line)
}

type fakeStop struct {
	stopped bool
}

func (f *fakeStop) Stopped() bool { return f.stopped }

func newTestEngine(prober Prober, mover Mover, typer Typer, link Sender, stop StopChecker) *Engine {
	e := New(statestore.New(), prober, mover, typer, link, stop)
	e.sleep = func(time.Duration) {}
	return e
}

func TestFillFieldSucceedsOnFirstAttempt(t *testing.T) {
	resp := probewire.CoordResponse{
		Found: true, X: 10, Y: 10, InViewport: true, Focused: true, Value: "hello world",
	}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp, resp, resp}}
	mover := &fakeMover{}
	typer := &fakeTyper{}
	link := &fakeSender{}

	e := newTestEngine(prober, mover, typer, link, &fakeStop{})
	a := Action{Kind: KindFillField, Selector: "#name", Text: "hello world"}

	if err := e.fillField(a); err != nil {
		t.Fatalf("fillField returned error: %v", err)
	}
	if len(typer.texts) != 1 || typer.texts[0] != "hello world" {
		t.Errorf("typer got %v, want one call with %q", typer.texts, "hello world")
	}
}

func TestFillFieldRetriesOnUnfocusedThenSucceeds(t *testing.T) {
	unfocused := probewire.CoordResponse{Found: true, X: 5, Y: 5, InViewport: true, Focused: false, Value: ""}
	focused := probewire.CoordResponse{Found: true, X: 5, Y: 5, InViewport: true, Focused: true, Value: "ok"}

	prober := &fakeProber{responses: []probewire.CoordResponse{
		unfocused, // initial query
		unfocused, // post-click query: still not focused
		focused,   // re-query after the extra click+recheck
		focused,   // final value verify
	}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	err := e.fillField(Action{Kind: KindFillField, Selector: "#x", Text: "ok"})
	if err != nil {
		t.Fatalf("fillField returned error: %v", err)
	}
}

func TestFillFieldExhaustsAttemptsWhenNeverFound(t *testing.T) {
	prober := &fakeProber{responses: []probewire.CoordResponse{{Found: false}}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	err := e.fillField(Action{Kind: KindFillField, Selector: "#missing", Text: "x"})
	if err == nil {
		t.Fatal("expected fillField to fail after exhausting attempts")
	}
}

func TestFillFieldScrollsWhenOutOfViewport(t *testing.T) {
	outOfView := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: false, ScrollDeltaNeeded: 500}
	inView := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: true, Focused: true, Value: "z"}

	prober := &fakeProber{responses: []probewire.CoordResponse{
		outOfView, // initial query: not in viewport
		inView,    // scrollIntoView's first re-query: now within 50px close-enough is not hit, force InViewport true instead
		inView,    // post-click focus query
		inView,    // value verify
	}}
	link := &fakeSender{}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, link, &fakeStop{})

	err := e.fillField(Action{Kind: KindFillField, Selector: "#y", Text: "z"})
	if err != nil {
		t.Fatalf("fillField returned error: %v", err)
	}
}

func TestClickSelectorSucceedsWhenCheckedStateFlips(t *testing.T) {
	unchecked := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: true, Checked: probewire.TriFalse}
	checked := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: true, Checked: probewire.TriTrue}

	prober := &fakeProber{responses: []probewire.CoordResponse{unchecked, checked}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if err := e.clickSelector(Action{Kind: KindClickSelector, Selector: "#cb"}); err != nil {
		t.Fatalf("clickSelector returned error: %v", err)
	}
}

func TestClickSelectorSucceedsImmediatelyForNonCheckable(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: true, Checked: probewire.TriUnknown}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if err := e.clickSelector(Action{Kind: KindClickSelector, Selector: "button"}); err != nil {
		t.Fatalf("clickSelector returned error: %v", err)
	}
}

func TestClickSelectorExhaustsWhenCheckedStateNeverFlips(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, X: 1, Y: 1, InViewport: true, Checked: probewire.TriFalse}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}} // always same state
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if err := e.clickSelector(Action{Kind: KindClickSelector, Selector: "#cb"}); err == nil {
		t.Fatal("expected clickSelector to exhaust attempts when checked state never flips")
	}
}

func TestClickOptionPreCheckSkipsWhenAlreadyChecked(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, Checked: probewire.TriTrue}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}}
	mover := &fakeMover{}
	e := newTestEngine(prober, mover, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if err := e.clickOption(Action{Kind: KindClickOption, Container: "#group", Label: "Yes"}); err != nil {
		t.Fatalf("clickOption returned error: %v", err)
	}
	if mover.calls != 0 {
		t.Errorf("expected no motion when the option is already checked, got %d MoveTo calls", mover.calls)
	}
	if prober.calls != 1 {
		t.Errorf("expected exactly one pre-check query, got %d", prober.calls)
	}
}

func TestClickOptionSucceedsAfterHoverAndClick(t *testing.T) {
	notYetChecked := probewire.CoordResponse{
		Found: true, X: 10, Y: 10, InViewport: true, Checked: probewire.TriFalse, HoveredLabelText: "",
	}
	hovered := probewire.CoordResponse{
		Found: true, X: 10, Y: 10, InViewport: true, Checked: probewire.TriFalse, HoveredLabelText: "Yes, I agree",
	}
	nowChecked := probewire.CoordResponse{
		Found: true, X: 10, Y: 10, InViewport: true, Checked: probewire.TriTrue, HoveredLabelText: "Yes, I agree",
	}

	prober := &fakeProber{responses: []probewire.CoordResponse{
		notYetChecked, // pre-check: not checked
		notYetChecked, // attempt 1 query
		hovered,       // post-move hover check
		nowChecked,    // verifyChecked
	}}
	link := &fakeSender{}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, link, &fakeStop{})

	err := e.clickOption(Action{Kind: KindClickOption, Container: "#group", Label: "Yes"})
	if err != nil {
		t.Fatalf("clickOption returned error: %v", err)
	}
	found := false
	for _, l := range link.lines {
		if l == "CLICK" {
			found = true
		}
	}
	if !found {
		t.Error("expected a CLICK command to have been sent")
	}
}

func TestVerifyCheckedTakesConfirmedFalseImmediately(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, Checked: probewire.TriFalse}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if e.verifyChecked("#group", "Yes") {
		t.Fatal("expected verifyChecked to report false for a confirmed-unchecked response")
	}
	if prober.calls != 1 {
		t.Errorf("expected a single confirmed answer to short-circuit the retry loop, got %d calls", prober.calls)
	}
}

func TestVerifyCheckedToleratesTransientNotFound(t *testing.T) {
	prober := &fakeProber{responses: []probewire.CoordResponse{
		{Found: false},
		{Found: true, Checked: probewire.TriTrue},
	}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	if !e.verifyChecked("#group", "Yes") {
		t.Fatal("expected verifyChecked to succeed after a transient not-found")
	}
}

func TestScrollIntoViewAcceptsCloseEnough(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, InViewport: false, ScrollDeltaNeeded: 30}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}}
	link := &fakeSender{}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, link, &fakeStop{})

	got, ok := e.scrollIntoView("#a", "")
	if !ok {
		t.Fatal("expected scrollIntoView to accept a residual delta under 50px")
	}
	if got.ScrollDeltaNeeded != 30 {
		t.Errorf("returned response scroll delta = %v, want 30", got.ScrollDeltaNeeded)
	}
	if len(link.lines) != 0 {
		t.Errorf("expected no SCROLL command once close-enough, got %v", link.lines)
	}
}

func TestScrollIntoViewExhaustsAfter12Iterations(t *testing.T) {
	resp := probewire.CoordResponse{Found: true, InViewport: false, ScrollDeltaNeeded: 5000}
	prober := &fakeProber{responses: []probewire.CoordResponse{resp}}
	link := &fakeSender{}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, link, &fakeStop{})

	_, ok := e.scrollIntoView("#a", "")
	if ok {
		t.Fatal("expected scrollIntoView to fail when the element never comes into view")
	}
	if prober.calls != 12 {
		t.Errorf("expected exactly 12 query attempts, got %d", prober.calls)
	}
	if len(link.lines) != 12 {
		t.Errorf("expected 12 SCROLL commands, got %d", len(link.lines))
	}
}

func TestRunRejectsReentry(t *testing.T) {
	prober := &fakeProber{}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})
	e.running.Store(true)

	err := e.Run([]Action{{Kind: KindDelay, DelayMS: 1}})
	if err == nil {
		t.Fatal("expected Run to reject re-entry while already running")
	}
}

func TestRunHaltsOnEmergencyStopBeforeFirstAction(t *testing.T) {
	e := newTestEngine(&fakeProber{}, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{stopped: true})

	err := e.Run([]Action{{Kind: KindDelay, DelayMS: 1}, {Kind: KindDelay, DelayMS: 1}})
	var halted ErrHalted
	if !errorsAs(err, &halted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if halted.Reason != "emergency stop" {
		t.Errorf("halt reason = %q, want %q", halted.Reason, "emergency stop")
	}
}

func TestRunSetsAutomatingForDuration(t *testing.T) {
	store := statestore.New()
	e := New(store, &fakeProber{}, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})
	e.sleep = func(time.Duration) {}

	var sawAutomating bool
	store.OnChange(func() {
		if store.Read().Automating {
			sawAutomating = true
		}
	})

	if err := e.Run([]Action{{Kind: KindDelay, DelayMS: 1}}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !sawAutomating {
		t.Error("expected Automating to be observed true during the run")
	}
	if store.Read().Automating {
		t.Error("expected Automating to be false after Run returns")
	}
}

func TestRunHaltsSequencerOnActionFailure(t *testing.T) {
	prober := &fakeProber{responses: []probewire.CoordResponse{{Found: false}}}
	e := newTestEngine(prober, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})

	actions := []Action{
		{Kind: KindFillField, Selector: "#missing", Text: "x"},
		{Kind: KindDelay, DelayMS: 1},
	}
	err := e.Run(actions)
	var halted ErrHalted
	if !errorsAs(err, &halted) {
		t.Fatalf("expected ErrHalted, got %v", err)
	}
	if halted.Action.Selector != "#missing" {
		t.Errorf("halted on action %v, want the failing FILL_FIELD", halted.Action)
	}
}

func TestRunRawPassesThroughVerbatim(t *testing.T) {
	link := &fakeSender{}
	e := newTestEngine(&fakeProber{}, &fakeMover{}, &fakeTyper{}, link, &fakeStop{})

	if err := e.Run([]Action{{Kind: KindRaw, Raw: "SCROLL,5"}}); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(link.lines) != 1 || link.lines[0] != "SCROLL,5" {
		t.Errorf("link received %v, want [\"SCROLL,5\"]", link.lines)
	}
}

func TestRunCallsWakeFnOnceBestEffort(t *testing.T) {
	e := newTestEngine(&fakeProber{}, &fakeMover{}, &fakeTyper{}, &fakeSender{}, &fakeStop{})
	calls := 0
	e.WakeFn = func() {
		calls++
		panic("wake hook exploded")
	}

	if err := e.Run([]Action{{Kind: KindDelay, DelayMS: 1}}); err != nil {
		t.Fatalf("Run returned error despite a panicking WakeFn: %v", err)
	}
	if calls != 1 {
		t.Errorf("WakeFn called %d times, want 1", calls)
	}
}

func TestPrefixMatches(t *testing.T) {
	cases := []struct {
		value, target string
		want          bool
	}{
		{"hello world", "hello world", true},
		{"Hello World  ", "hello world", true},
		{"hello world extended text beyond twenty chars", "hello world extended text beyond", true},
		{"totally different", "hello world", false},
		{"", "", true},
		{"", "hello world", false},
	}
	for _, c := range cases {
		if got := prefixMatches(c.value, c.target); got != c.want {
			t.Errorf("prefixMatches(%q, %q) = %v, want %v", c.value, c.target, got, c.want)
		}
	}
}

func TestFirstN(t *testing.T) {
	if got := firstN("hello", 3); got != "hel" {
		t.Errorf("firstN = %q, want %q", got, "hel")
	}
	if got := firstN("hi", 10); got != "hi" {
		t.Errorf("firstN = %q, want %q", got, "hi")
	}
}

// errorsAs is a tiny local stand-in for errors.As: Run returns ErrHalted
// unwrapped, so a direct type assertion is enough.
func errorsAs(err error, target *ErrHalted) bool {
	if h, ok := err.(ErrHalted); ok {
		*target = h
		return true
	}
	return false
}
