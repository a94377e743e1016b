package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service and daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(ctx, cmd)
		},
	}
	return cmd
}

func runStatus(cctx *commandContext, cmd *cobra.Command) error {
	cfg, err := cctx.ensureConfig()
	if err != nil {
		return err
	}

	client, err := cctx.serviceClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	serviceState := "ok"
	if err := client.Health(ctx); err != nil {
		serviceState = fmt.Sprintf("unreachable (%v)", err)
	}

	daemonState := "not running"
	pipelineState := "-"
	progress := "-"
	if snap, err := fetchDaemonStatus(ctx, cfg.Paths.APIBind, cfg.Paths.APIToken); err == nil {
		daemonState = "running"
		pipelineState = snap.State
		progress = fmt.Sprintf("%d%%", snap.Progress)
		if snap.Error != "" {
			pipelineState = pipelineState + ": " + snap.Error
		}
	}

	rows := [][]string{
		{"Service", cfg.Service.BaseURL, serviceState},
		{"Daemon", cfg.Paths.APIBind, daemonState},
		{"Pipeline", pipelineState, progress},
	}
	if stdoutIsTerminal() {
		fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Component", "Target", "State"}, rows, nil))
		return nil
	}
	for _, row := range rows {
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(row, "\t"))
	}
	return nil
}

type daemonStatus struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
	Error    string `json:"error"`
}

func fetchDaemonStatus(ctx context.Context, bind, token string) (*daemonStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+bind+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("daemon api returned %d", resp.StatusCode)
	}
	var status daemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}
