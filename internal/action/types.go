// Package action implements the Action Engine: the sequencer over a
// command list and the FILL_FIELD / CLICK_SELECTOR / CLICK_OPTION
// handlers, each a bounded verify-before-proceed retry loop that halts
// the whole sequencer on unverifiable state.
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the Action variants. Parsed once at /automation
// entry into this discriminated union; the wire grammar itself stays
// comma-delimited strings.
type Kind int

const (
	KindFillField Kind = iota
	KindClickSelector
	KindClickOption
	KindDelay
	KindRaw
)

// Action is one entry of a dispatched command list.
type Action struct {
	Kind Kind

	Selector  string // FILL_FIELD, CLICK_SELECTOR
	Text      string // FILL_FIELD
	Container string // CLICK_OPTION
	Label     string // CLICK_OPTION
	DelayMS   int    // DELAY
	Raw       string // pass-through Injector command line
}

func (a Action) String() string {
	switch a.Kind {
	case KindFillField:
		return fmt.Sprintf("FILL_FIELD %s %q", a.Selector, a.Text)
	case KindClickSelector:
		return fmt.Sprintf("CLICK_SELECTOR %s", a.Selector)
	case KindClickOption:
		return fmt.Sprintf("CLICK_OPTION %s %q", a.Container, a.Label)
	case KindDelay:
		return fmt.Sprintf("DELAY %d", a.DelayMS)
	default:
		return fmt.Sprintf("RAW %s", a.Raw)
	}
}

// ParseCommands parses the wire command list from POST /automation into
// the Action discriminated union. Unrecognized verbs fall through to
// KindRaw and are forwarded to the Injector verbatim, unparsed.
func ParseCommands(commands []string) ([]Action, error) {
	actions := make([]Action, 0, len(commands))
	for _, c := range commands {
		a, err := parseOne(c)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func parseOne(c string) (Action, error) {
	verb, rest, _ := strings.Cut(c, ",")
	switch strings.ToUpper(strings.TrimSpace(verb)) {
	case "FILL_FIELD":
		selector, text, ok := strings.Cut(rest, ",")
		if !ok {
			return Action{}, fmt.Errorf("action: malformed FILL_FIELD command %q", c)
		}
		return Action{Kind: KindFillField, Selector: selector, Text: text}, nil

	case "CLICK_SELECTOR":
		if rest == "" {
			return Action{}, fmt.Errorf("action: malformed CLICK_SELECTOR command %q", c)
		}
		return Action{Kind: KindClickSelector, Selector: rest}, nil

	case "CLICK_OPTION":
		container, label, ok := strings.Cut(rest, ",")
		if !ok {
			return Action{}, fmt.Errorf("action: malformed CLICK_OPTION command %q", c)
		}
		return Action{Kind: KindClickOption, Container: container, Label: label}, nil

	case "DELAY":
		ms, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			return Action{}, fmt.Errorf("action: malformed DELAY command %q: %w", c, err)
		}
		return Action{Kind: KindDelay, DelayMS: ms}, nil

	default:
		return Action{Kind: KindRaw, Raw: c}, nil
	}
}
