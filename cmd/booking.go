package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// The booking subcommands talk to a running server over its JSON API, since
// the timers live in the server process.
func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage bookings through a running server",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingCancelCmd())
	cmd.AddCommand(newBookingCodeCmd())
	return cmd
}

func newBookingCreateCmd() *cobra.Command {
	var (
		participants string
		resource     string
		submitTime   string
		notifyTarget string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"participants": splitCSV(participants),
				"resource":     resource,
			}
			if submitTime != "" {
				body["submit_time"] = submitTime
			}
			if notifyTarget != "" {
				body["notify_target"] = notifyTarget
			}

			var res struct {
				Status  string `json:"status"`
				Booking struct {
					ID       string    `json:"id"`
					TargetAt time.Time `json:"target_at"`
				} `json:"booking"`
			}
			if err := apiCall(http.MethodPost, "/api/bookings", body, &res); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "created booking id=%s state=%s fires_at=%s\n",
				res.Booking.ID, res.Status, res.Booking.TargetAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&participants, "participants", "", "comma-separated player names")
	c.Flags().StringVar(&resource, "resource", "", "resource (court/slot) name")
	c.Flags().StringVar(&submitTime, "submit-time", "", "submission time HH:MM (default: server's)")
	c.Flags().StringVar(&notifyTarget, "notify", "", "e-mail address for the outcome")
	_ = c.MarkFlagRequired("participants")
	_ = c.MarkFlagRequired("resource")
	return c
}

func newBookingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List bookings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Total    int `json:"total"`
				Bookings []struct {
					ID            string    `json:"id"`
					ResourceAlias string    `json:"resource_alias"`
					Participants  []string  `json:"participants"`
					TargetAt      time.Time `json:"target_at"`
					State         string    `json:"state"`
					ResultDetail  string    `json:"result_detail"`
				} `json:"bookings"`
			}
			if err := apiCall(http.MethodGet, "/api/bookings", nil, &res); err != nil {
				return err
			}
			for _, b := range res.Bookings {
				fmt.Fprintf(os.Stdout, "%s  %-10s %-40s %s  %s %s\n",
					b.ID, b.State, b.ResourceAlias, b.TargetAt.Format("2006-01-02 15:04"),
					strings.Join(b.Participants, ","), b.ResultDetail)
			}
			fmt.Fprintf(os.Stdout, "total: %d\n", res.Total)
			return nil
		},
	}
}

func newBookingCancelCmd() *cobra.Command {
	var credential string
	c := &cobra.Command{
		Use:   "cancel <booking-id>",
		Short: "Cancel a pending booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"credential": credential}
			var res struct {
				Status string `json:"status"`
			}
			if err := apiCall(http.MethodDelete, "/api/bookings/"+args[0], body, &res); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "booking %s %s\n", args[0], res.Status)
			return nil
		},
	}
	c.Flags().StringVar(&credential, "credential", "", "master secret or one-time code")
	_ = c.MarkFlagRequired("credential")
	return c
}

func newBookingCodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request-code <booking-id>",
		Short: "Send a cancellation code to the operator channels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Message string `json:"message"`
			}
			if err := apiCall(http.MethodPost, "/api/bookings/"+args[0]+"/cancel-code", nil, &res); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, res.Message)
			return nil
		},
	}
}

func apiCall(method, path string, body, out any) error {
	// only the server address is needed here; the full config (form file
	// included) lives with the server process
	_ = godotenv.Load()
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := (&http.Client{Timeout: 15 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return fmt.Errorf("server returned status %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
