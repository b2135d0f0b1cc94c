package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"amroute/internal/account"
	"amroute/internal/actor"
	"amroute/internal/amconfig"
	"amroute/internal/clock"
	"amroute/internal/dispatch"
	"amroute/internal/domain"
	"amroute/internal/matcher"
	"amroute/internal/metrics"
	"amroute/internal/names"
	"amroute/internal/routing"
)

// Dispatcher is the ingest-side entry point. It compiles the account's
// route tree, buckets incoming alerts into groups, and feeds both the
// account controller and the per-group controllers.
// Params: actor runtime and account config source.
// Returns: sink for ingest interfaces.
type Dispatcher struct {
	runtime  *actor.Runtime
	provider amconfig.Provider
	cache    *matcher.Cache
	clk      clock.Clock
	logger   *slog.Logger
}

// NewDispatcher creates the ingest dispatcher.
// Params: actor runtime, account config provider, clock, and logger.
// Returns: dispatcher ready for PushAlerts.
func NewDispatcher(runtime *actor.Runtime, provider amconfig.Provider, clk clock.Clock, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runtime:  runtime,
		provider: provider,
		cache:    matcher.NewCache(),
		clk:      clk,
		logger:   logger,
	}
}

// PushAlerts routes one decoded batch for one account.
// Params: owning account and fingerprinted alerts.
// Returns: resolve, routing, or actor call error.
func (d *Dispatcher) PushAlerts(ctx context.Context, accountID string, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	cfg, err := d.provider.ResolveAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("resolve account %q: %w", accountID, err)
	}
	if cfg.Route == nil {
		return fmt.Errorf("account %q has no route", accountID)
	}
	compiled, err := routing.Collapse(cfg.Route)
	if err != nil {
		return fmt.Errorf("compile routes for %q: %w", accountID, err)
	}

	now := d.clk.Now()
	groups, receivered, err := routing.GroupAlerts(alerts, compiled, d.cache, now)
	if err != nil {
		return fmt.Errorf("group alerts for %q: %w", accountID, err)
	}

	// The account store absorbs alerts before any group wakes up, so a
	// group flush always finds its alerts hydratable.
	var added account.AddAlertsResponse
	err = d.runtime.Call(ctx, names.Account(accountID), account.MethodAddAlerts,
		account.AddAlertsRequest{Alerts: receivered}, &added)
	if err != nil {
		return fmt.Errorf("store alerts for %q: %w", accountID, err)
	}
	metrics.AlertsIngestedTotal.WithLabelValues(accountID).Add(float64(len(receivered)))
	d.logger.Debug("alerts stored", "account", accountID,
		"received", len(receivered), "added", added.Added)

	routed := make([]domain.AlertGroup, 0, len(groups))
	for nodeID, nodeGroups := range groups {
		node, err := compiled.Node(nodeID)
		if err != nil {
			return err
		}
		for _, group := range nodeGroups {
			name := names.AlertGroup(accountID, nodeID, group.LabelValues)
			var ack account.Ack
			err := d.runtime.Call(ctx, name, dispatch.MethodGroupInitialize,
				dispatch.GroupInitRequest{AccountID: accountID, Route: node, Group: group}, &ack)
			if err != nil {
				return fmt.Errorf("initialize group %q: %w", name, err)
			}
			metrics.AlertGroupsRoutedTotal.WithLabelValues(accountID).Inc()
			routed = append(routed, group)
		}
	}

	if len(routed) > 0 {
		var ack account.Ack
		err := d.runtime.Call(ctx, names.Account(accountID), account.MethodAddAlertGroups,
			account.AddAlertGroupsRequest{Groups: routed}, &ack)
		if err != nil && !errors.Is(err, actor.ErrNoResult) {
			return fmt.Errorf("store alert groups for %q: %w", accountID, err)
		}
	}
	return nil
}
