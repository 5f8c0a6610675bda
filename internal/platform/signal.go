package platform

// Locator describes where an element should be found on the current page.
// It is a descriptor, never a live handle: the driver resolves it against the
// live DOM immediately before every use, which is what keeps a wait boundary,
// a navigation or a retry iteration from leaking a dead reference forward.
type Locator struct {
	// Selector is a CSS selector evaluated against the document, or against
	// Scope when one is set.
	Selector string `mapstructure:"selector"`
	// Scope optionally narrows the search to the first element matching this
	// CSS selector.
	Scope string `mapstructure:"scope"`
	// Text optionally requires the element's visible text to contain this
	// substring (case-insensitive). The first matching element wins.
	Text string `mapstructure:"text"`
}

// IsZero reports whether the locator is unconfigured.
func (l Locator) IsZero() bool {
	return l.Selector == ""
}

func (l Locator) String() string {
	s := l.Selector
	if l.Scope != "" {
		s = l.Scope + " " + s
	}
	if l.Text != "" {
		s += " [text~=" + l.Text + "]"
	}
	return s
}

// Element is a live handle resolved from a Locator. Handles are valid only
// until the next wait, navigation or retry iteration; they are passed back to
// the driver immediately and never stored.
type Element interface {
	// Locator returns the descriptor the handle was resolved from.
	Locator() Locator
}

// Predicate is the match condition a detection signal requires of its
// located element.
type Predicate uint8

const (
	// PredicatePresent requires the locator to resolve.
	PredicatePresent Predicate = iota
	// PredicateVisible additionally requires the element to be rendered
	// visibly.
	PredicateVisible
	// PredicateStable additionally requires the rendered region to be
	// identical across two captures separated by a short pause, which
	// filters out elements still animating into place.
	PredicateStable
)

func (p Predicate) String() string {
	switch p {
	case PredicateVisible:
		return "visible"
	case PredicateStable:
		return "stable"
	default:
		return "present"
	}
}

// SignalKind distinguishes element-backed signals from the URL fallback.
type SignalKind uint8

const (
	// SignalElement matches when the signal's locator satisfies its
	// predicate.
	SignalElement SignalKind = iota
	// SignalURL matches when the current page URL contains a substring.
	// URL signals are a weaker tier consulted only when no element signal
	// matched at all.
	SignalURL
)

// DetectionSignal is one statically configured check used to recognize a
// portal from page content. The configured set must be disjoint per tier: if
// two signals of the same tier match at once the classifier refuses to guess
// and reports Unknown.
type DetectionSignal struct {
	// Name identifies the signal in logs ("bci logo", "zenit url").
	Name string
	// Target is the context this signal detects.
	Target Context
	// Kind selects element matching or URL matching.
	Kind SignalKind
	// Locator is consulted for SignalElement.
	Locator Locator
	// Predicate is the readiness requirement for SignalElement.
	Predicate Predicate
	// URLSubstring is consulted for SignalURL (case-insensitive).
	URLSubstring string
}
