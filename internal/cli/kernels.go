package cli

import (
	"context"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"

	"github.com/vburojevic/kernelbridge/internal/domain"
	"github.com/vburojevic/kernelbridge/internal/jupyter"
	"github.com/vburojevic/kernelbridge/internal/output"
)

// KernelsCmd lists kernels running on the server
type KernelsCmd struct {
	Name string `short:"n" help:"Only show kernels with this kernelspec name"`
}

// KernelOutput is the NDJSON kernel event
type KernelOutput struct {
	Type           string `json:"type"` // "kernel"
	SchemaVersion  int    `json:"schemaVersion"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	ExecutionState string `json:"execution_state,omitempty"`
	LastActivity   string `json:"last_activity,omitempty"`
	Connections    int    `json:"connections"`
}

// Run executes the kernels command
func (c *KernelsCmd) Run(globals *Globals) error {
	if err := validateGlobals(globals); err != nil {
		return err
	}
	client, err := jupyter.NewClient(globals.Server, globals.Token, jupyter.WithLogger(globals.Logger()))
	if err != nil {
		return outputErrorCommon(globals, "INVALID_SERVER", err.Error(), "pass --server http://host:port")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	kernels, err := client.ListKernels(ctx)
	if err != nil {
		return outputError(globals, err)
	}
	if c.Name != "" {
		kernels = lo.Filter(kernels, func(k jupyter.KernelModel, _ int) bool { return k.Name == c.Name })
	}

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, k := range kernels {
			if err := w.Write(KernelOutput{
				Type:           "kernel",
				SchemaVersion:  output.SchemaVersion,
				ID:             k.ID,
				Name:           k.Name,
				ExecutionState: k.ExecutionState,
				LastActivity:   k.LastActivity,
				Connections:    k.Connections,
			}); err != nil {
				return err
			}
		}
		return nil
	}

	table := tablewriter.NewWriter(globals.Stdout)
	table.Header("ID", "Name", "State", "Last activity", "Connections")
	for _, k := range kernels {
		state := output.StatusStyle(domain.ParseKernelStatus(k.ExecutionState)).Render(k.ExecutionState)
		if err := table.Append([]string{k.ID, k.Name, state, k.LastActivity, strconv.Itoa(k.Connections)}); err != nil {
			return err
		}
	}
	return table.Render()
}
