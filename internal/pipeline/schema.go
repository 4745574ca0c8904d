package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ValidateSteps checks the static consistency rules for a configured step
// sequence. It runs at configuration load so a broken mapping is rejected
// before any booking is accepted, not at submission time.
func ValidateSteps(steps []Step, participants int, profile map[string]string) error {
	if len(steps) == 0 {
		return fmt.Errorf("at least one submission step is required")
	}
	for i, st := range steps {
		if st.Index != i {
			return fmt.Errorf("step indexes must be contiguous from 0, got %d at position %d", st.Index, i)
		}
		if st.Endpoint == "" {
			return fmt.Errorf("step %d: endpoint is required", i)
		}
		if len(st.Fields) == 0 && len(st.Static) == 0 {
			return fmt.Errorf("step %d: no fields mapped", i)
		}
		if st.NeedsToken {
			if i == 0 {
				return fmt.Errorf("step 0 cannot depend on a continuation token")
			}
			if st.TokenField == "" {
				return fmt.Errorf("step %d: token_field is required when needs_token is set", i)
			}
			if steps[i-1].TokenPattern == "" {
				return fmt.Errorf("step %d needs a token but step %d has no token_pattern", i, i-1)
			}
		}
		if st.TokenPattern != "" {
			if _, err := regexp.Compile(st.TokenPattern); err != nil {
				return fmt.Errorf("step %d: invalid token_pattern: %w", i, err)
			}
		}
		for _, f := range st.Fields {
			if f.Logical == "" || f.Entry == "" {
				return fmt.Errorf("step %d: field mapping needs both logical and entry", i)
			}
			if err := resolvable(f.Logical, participants, profile); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	return nil
}

func resolvable(logical string, participants int, profile map[string]string) error {
	if logical == "resource" {
		return nil
	}
	if n, ok := participantIndex(logical); ok {
		if n < 1 || n > participants {
			return fmt.Errorf("field %q out of range (bookings carry %d participants)", logical, participants)
		}
		return nil
	}
	if _, ok := profile[logical]; ok {
		return nil
	}
	return fmt.Errorf("field %q has no configured value", logical)
}

// SchemaReport is the outcome of checking configured field ids against the
// live form.
type SchemaReport struct {
	CheckedURL string
	Missing    []string
}

func (r SchemaReport) OK() bool { return len(r.Missing) == 0 }

// CheckSchema fetches the form's view page and reports configured external
// field ids that no longer appear in the published form definition. Forms get
// edited; a stale mapping fails silently at fire time, so operators run this
// ahead of the window.
func (c *Client) CheckSchema(ctx context.Context) (SchemaReport, error) {
	viewURL := ViewURL(c.steps[len(c.steps)-1].Endpoint)
	rep := SchemaReport{CheckedURL: viewURL}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return rep, err
	}
	res, err := (&http.Client{}).Do(req)
	if err != nil {
		return rep, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return rep, fmt.Errorf("fetch form: status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return rep, err
	}

	html := string(body)
	for _, st := range c.steps {
		for _, f := range st.Fields {
			num := strings.TrimPrefix(f.Entry, "entry.")
			if !strings.Contains(html, num) {
				rep.Missing = append(rep.Missing, fmt.Sprintf("%s (%s)", f.Logical, f.Entry))
			}
		}
	}
	return rep, nil
}

// ViewURL derives the human-viewable form URL from a submit endpoint.
func ViewURL(endpoint string) string {
	if strings.HasSuffix(endpoint, "/formResponse") {
		return strings.TrimSuffix(endpoint, "/formResponse") + "/viewform"
	}
	return endpoint
}
