package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/roamhub-io/roamhub/internal/roamhub/core/model"
)

const statusTimeout = 10 * time.Second

// newStatusCommand builds the "status" subcommand: it queries a running hub
// over its HTTP API and prints the current fleet snapshot per operator.
func newStatusCommand() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current status of every EVSE in the fleet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printFleetStatus(cmd, server)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8480", "Base URL of the running roamhub HTTP API.")
	return cmd
}

func printFleetStatus(cmd *cobra.Command, server string) error {
	client := &http.Client{Timeout: statusTimeout}

	var ops struct {
		Operators []model.OperatorID `json:"operators"`
	}
	if err := getJSON(client, server+"/api/v1/operators", &ops); err != nil {
		return fmt.Errorf("fetch operators: %w", err)
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("OPERATOR", "EVSE", "STATUS", "SINCE")

	for _, op := range ops.Operators {
		var snap struct {
			Snapshot map[string]model.StatusValue `json:"snapshot"`
		}
		u := server + "/api/v1/operators/" + url.PathEscape(op.String()) + "/snapshot"
		if err := getJSON(client, u, &snap); err != nil {
			return fmt.Errorf("fetch snapshot for %s: %w", op, err)
		}

		evses := make([]string, 0, len(snap.Snapshot))
		for id := range snap.Snapshot {
			evses = append(evses, id)
		}
		sort.Strings(evses)
		for _, id := range evses {
			v := snap.Snapshot[id]
			table.AddRow(op.String(), id, string(v.Status), v.Timestamp.Format(time.RFC3339))
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), table)
	return nil
}

func getJSON(client *http.Client, u string, out any) error {
	resp, err := client.Get(u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
