package namespace

// Before says where keys sit among a command's arguments.
type Before uint8

const (
	BeforeNone Before = iota
	BeforeFirst
	BeforeAll
	BeforeExcludeFirst
	BeforeExcludeLast
	// BeforeExcludeOptions covers destination, numkeys, keys..., then
	// weights and other options.
	BeforeExcludeOptions
	// BeforeAlternate prefixes even positions of key/value argument lists.
	BeforeAlternate
	BeforeSort
	// BeforeEvalStyle covers script, numkeys, keys..., args...
	BeforeEvalStyle
	// BeforeScanStyle confines a cursor scan to the namespace through MATCH.
	BeforeScanStyle
)

var beforeNames = [...]string{
	BeforeNone:           "none",
	BeforeFirst:          "first",
	BeforeAll:            "all",
	BeforeExcludeFirst:   "exclude_first",
	BeforeExcludeLast:    "exclude_last",
	BeforeExcludeOptions: "exclude_options",
	BeforeAlternate:      "alternate",
	BeforeSort:           "sort",
	BeforeEvalStyle:      "eval_style",
	BeforeScanStyle:      "scan_style",
}

func (b Before) String() string {
	if int(b) < len(beforeNames) {
		return beforeNames[b]
	}
	return "unknown"
}

// After says where keys sit in a command's reply.
type After uint8

const (
	AfterNone After = iota
	AfterFirst
	AfterSecond
	AfterAll
)

var afterNames = [...]string{
	AfterNone:   "none",
	AfterFirst:  "first",
	AfterSecond: "second",
	AfterAll:    "all",
}

func (a After) String() string {
	if int(a) < len(afterNames) {
		return afterNames[a]
	}
	return "unknown"
}

// Rule pairs the outbound and inbound key locations of a command.
// The zero Rule passes everything through.
type Rule struct {
	Before Before
	After  After
}

func (r Rule) String() string {
	return r.Before.String() + "/" + r.After.String()
}
