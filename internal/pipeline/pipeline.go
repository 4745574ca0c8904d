// Package pipeline executes the ordered multi-page form submission against
// the external booking form. Steps are opaque to the rest of the system:
// configuration supplies the endpoints and field mappings, the client threads
// server-issued continuation tokens between dependent steps.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Field maps a logical payload key onto the external form's field identifier
// (e.g. "participant1" -> "entry.1572571765").
type Field struct {
	Logical string `json:"logical"`
	Entry   string `json:"entry"`
}

// Step is one page of the multi-page submission.
type Step struct {
	Index    int               `json:"index"`
	Endpoint string            `json:"endpoint"`
	Fields   []Field           `json:"fields"`
	Static   map[string]string `json:"static,omitempty"`

	// NeedsToken marks the step as dependent on a continuation token yielded
	// by the previous step; TokenField is the external field it is posted
	// under. TokenPattern is set on the step that yields the token and must
	// capture it in its first group (or match it whole).
	NeedsToken   bool   `json:"needs_token,omitempty"`
	TokenField   string `json:"token_field,omitempty"`
	TokenPattern string `json:"token_pattern,omitempty"`
}

// Submission is the per-booking data mapped onto the steps' field mappings.
type Submission struct {
	Participants []string
	Resource     string
}

type FailKind int

const (
	KindNone FailKind = iota
	// KindTransport covers network errors and timeouts; the scheduler retries
	// the whole sequence.
	KindTransport
	// KindProtocol covers unexpected statuses and missing continuation
	// tokens; retrying a malformed sequence wastes attempts, so it is
	// terminal.
	KindProtocol
)

type Result struct {
	OK        bool
	Detail    string
	StepIndex int
	Kind      FailKind
	Reason    string
}

func success(detail string) Result { return Result{OK: true, Detail: detail} }

func failure(step int, kind FailKind, format string, args ...any) Result {
	return Result{StepIndex: step, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

type Client struct {
	hc          *http.Client
	steps       []Step
	profile     map[string]string
	stepTimeout time.Duration
	patterns    map[int]*regexp.Regexp
}

func New(steps []Step, profile map[string]string, stepTimeout time.Duration) (*Client, error) {
	patterns := make(map[int]*regexp.Regexp)
	for _, st := range steps {
		if st.TokenPattern == "" {
			continue
		}
		re, err := regexp.Compile(st.TokenPattern)
		if err != nil {
			return nil, fmt.Errorf("step %d: invalid token pattern: %w", st.Index, err)
		}
		patterns[st.Index] = re
	}
	return &Client{
		hc: &http.Client{
			// the form endpoint answers 301 on success; do not chase it
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		steps:       steps,
		profile:     profile,
		stepTimeout: stepTimeout,
		patterns:    patterns,
	}, nil
}

// Submit runs the steps in index order and stops at the first failure. It has
// no side effects beyond the outbound posts; the caller owns retries and
// persistence.
func (c *Client) Submit(ctx context.Context, sub Submission) Result {
	var token string
	for i, st := range c.steps {
		form, err := c.payload(st, sub, token)
		if err != nil {
			return failure(st.Index, KindProtocol, "%v", err)
		}

		status, body, err := c.post(ctx, st.Endpoint, form)
		if err != nil {
			return failure(st.Index, KindTransport, "post failed: %v", err)
		}
		if !accepted(status) {
			// server errors are transient; anything else means the form no
			// longer matches the configured sequence
			kind := KindProtocol
			if status >= 500 {
				kind = KindTransport
			}
			return failure(st.Index, kind, "unexpected status %d", status)
		}

		token = ""
		if i+1 < len(c.steps) && c.steps[i+1].NeedsToken {
			re := c.patterns[st.Index]
			if re == nil {
				return failure(st.Index, KindProtocol, "next step needs a continuation token but step has no token pattern")
			}
			token = extractToken(re, body)
			if token == "" {
				return failure(st.Index, KindProtocol, "continuation token not found in response")
			}
		}
	}
	return success(fmt.Sprintf("submitted %d page(s) for %s", len(c.steps), sub.Resource))
}

func (c *Client) payload(st Step, sub Submission, token string) (url.Values, error) {
	form := url.Values{}
	for _, f := range st.Fields {
		v, err := c.resolve(f.Logical, sub)
		if err != nil {
			return nil, err
		}
		form.Set(f.Entry, v)
	}
	for k, v := range st.Static {
		form.Set(k, v)
	}
	if st.NeedsToken {
		if token == "" {
			// guarded by Submit; kept as a hard invariant
			return nil, fmt.Errorf("step %d requires a continuation token", st.Index)
		}
		form.Set(st.TokenField, token)
	}
	return form, nil
}

func (c *Client) resolve(logical string, sub Submission) (string, error) {
	if logical == "resource" {
		return sub.Resource, nil
	}
	if n, ok := participantIndex(logical); ok {
		if n < 1 || n > len(sub.Participants) {
			return "", fmt.Errorf("no value for field %q", logical)
		}
		return sub.Participants[n-1], nil
	}
	if v, ok := c.profile[logical]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown logical field %q", logical)
}

func participantIndex(logical string) (int, bool) {
	rest, ok := strings.CutPrefix(logical, "participant")
	if !ok || rest == "" {
		return 0, false
	}
	n := 0
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, err
	}
	return res.StatusCode, b, nil
}

func accepted(status int) bool {
	return status == http.StatusOK || status == http.StatusCreated || status == http.StatusMovedPermanently
}

func extractToken(re *regexp.Regexp, body []byte) string {
	m := re.FindSubmatch(body)
	switch {
	case len(m) >= 2:
		return string(m[1])
	case len(m) == 1:
		return string(m[0])
	}
	return ""
}
