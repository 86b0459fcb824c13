package types

// ProxyMode is the recording/replay state machine mode.
type ProxyMode string

const (
	ProxyTransparent ProxyMode = "proxyTransparent"
	ProxyOnce        ProxyMode = "proxyOnce"
	ProxyAlways      ProxyMode = "proxyAlways"
)

// RequestSignature identifies a request for recording/replay matching. Two
// signatures are equal iff all four components match byte-for-byte;
// FilteredHeaders preserves the order declared by predicateGenerators, not
// request arrival order.
type RequestSignature struct {
	Method          string
	Path            string
	QueryRaw        string
	HasQuery        bool
	FilteredHeaders []KV
}

// RecordedResponse is a persisted upstream response.
type RecordedResponse struct {
	Status        int
	Headers       map[string]string
	Body          []byte
	LatencyMS     *int64
	TimestampSecs int64
}

// PredicateGenerator names a request field to capture when synthesizing a
// signature or exporting a stub.
type PredicateGenerator struct {
	Method bool `yaml:"method,omitempty" json:"method,omitempty"`
	Path   bool `yaml:"path,omitempty" json:"path,omitempty"`
	Query  bool `yaml:"query,omitempty" json:"query,omitempty"`
	// Headers lists header names (lowercase) to include, in declaration order.
	Headers []string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// Stub is a Mountebank-compatible exportable predicate+response pair.
type Stub struct {
	Predicates []StubPredicate `yaml:"predicates" json:"predicates"`
	Responses  []StubResponse  `yaml:"responses" json:"responses"`
}

type StubPredicate struct {
	And StubAndPredicate `yaml:"and" json:"and"`
}

type StubAndPredicate struct {
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

type StubResponse struct {
	Is StubIs `yaml:"is" json:"is"`
}

type StubIs struct {
	StatusCode int               `yaml:"statusCode" json:"statusCode"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body       string            `yaml:"body" json:"body"`
	Behaviors  *StubBehaviors    `yaml:"_behaviors,omitempty" json:"_behaviors,omitempty"`
}

type StubBehaviors struct {
	Wait int64 `yaml:"wait" json:"wait"`
}
