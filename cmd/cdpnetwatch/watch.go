package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpnetwatch/internal/config"
	"cdpnetwatch/pkg/model"
	"cdpnetwatch/pkg/rulespec"
)

// watchCmd 附加到页面并输出网络事件，每行一个 JSON
func watchCmd() *cobra.Command {
	var (
		target       string
		rulesPath    string
		intercept    bool
		eventFilters []string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach to a page and stream its network events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(true)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if target == "" {
				target = a.cfg.DevTools.Target
			}
			rs := rulespec.RuleSet{Rules: a.cfg.Rules}
			if rulesPath != "" {
				if rs, err = config.LoadRules(rulesPath); err != nil {
					return err
				}
			}

			id, err := a.svc.StartSession(ctx, model.SessionConfig{
				DevToolsURL:  a.cfg.DevTools.URL,
				Target:       model.TargetID(target),
				Interception: intercept || len(rs.Rules) > 0,
				EventBuffer:  a.cfg.Network.EventBuffer,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.svc.StopSession(id); err != nil {
					a.log.Err(err, "停止会话失败")
				}
			}()

			if err := a.svc.LoadRules(id, rs); err != nil {
				return err
			}
			if err := a.svc.ConfigureNetwork(ctx, id, a.cfg.Network); err != nil {
				return err
			}
			events, unsubscribe, err := a.svc.SubscribeEvents(id)
			if err != nil {
				return err
			}
			defer unsubscribe()

			attached, err := a.svc.AttachTarget(ctx, id, model.TargetID(target))
			if err != nil {
				return err
			}
			a.log.Info("开始监听", "target", string(attached))

			return printEvents(ctx, cmd, events, eventFilters)
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "target id (default: first user page)")
	cmd.Flags().StringVarP(&rulesPath, "rules", "r", "", "YAML rule file, replaces rules from config")
	cmd.Flags().BoolVarP(&intercept, "intercept", "i", false, "enable request interception")
	cmd.Flags().StringSliceVarP(&eventFilters, "events", "e", nil, "event types to print (request, response, requestfinished, requestfailed, requestservedfromcache)")
	return cmd
}

func printEvents(ctx context.Context, cmd *cobra.Command, events <-chan model.NetworkEvent, filters []string) error {
	allow := make(map[model.EventType]bool, len(filters))
	for _, f := range filters {
		allow[model.EventType(f)] = true
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			if len(allow) > 0 && !allow[ev.Type] {
				continue
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	}
}
