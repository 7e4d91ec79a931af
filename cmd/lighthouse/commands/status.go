package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-appliance/internal/cli/output"
	"github.com/melih/lighthouse-appliance/internal/lifecycle"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show appliance status",
	Long: `Status inspects the container, the database and the data on disk and prints
what it finds. It never changes anything and does not take the lock.

Examples:
  lighthouse status
  lighthouse status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	st, err := s.coord.Status(s.ctx)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if statusJSON {
		return output.JSON(w, st)
	}
	output.KeyValues(w, statusPairs(s.cfg.Database.KeyTables, st))
	return nil
}

func statusPairs(keyTables []string, st *lifecycle.Status) [][2]string {
	container := "not deployed"
	if st.Container != nil {
		container = fmt.Sprintf("%s (%s, %s)", st.Container.Name, st.Container.Status, st.Container.Image)
	}

	pairs := [][2]string{
		{"Container", container},
		{"Running", output.YesNo(st.State.ContainerRunning)},
		{"Database reachable", output.YesNo(st.State.DatabaseReachable)},
		{"Data on disk", output.YesNo(st.State.DataInitialized)},
		{"Schema present", output.YesNo(st.State.SchemaPresent)},
		{"Proxy running", output.YesNo(st.ProxyAlive)},
	}
	for _, table := range keyTables {
		if n, ok := st.TableCounts[table]; ok {
			pairs = append(pairs, [2]string{"Rows in " + table, fmt.Sprint(n)})
		}
	}
	if st.Marker != nil {
		pairs = append(pairs, [2]string{"Initialized", st.Marker.Timestamp.Format("2006-01-02 15:04:05 MST")})
	}
	pairs = append(pairs,
		[2]string{"Web port", fmt.Sprint(st.Ports.Web)},
		[2]string{"Proxy ports", fmt.Sprintf("%d/tcp %d/udp", st.Ports.ProtocolA, st.Ports.ProtocolB)},
	)
	return pairs
}
