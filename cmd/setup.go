package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloudherd/internal/config"
	"cloudherd/internal/inventory"
	"cloudherd/internal/journal"
	"cloudherd/internal/probe"
	"cloudherd/internal/provider"
	"cloudherd/internal/reconcile"
)

// newProvider builds the AWS-backed provider from config.
func newProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	return provider.NewAWSProvider(ctx, cfg.AWS.Region, cfg.AWS.AccessKey, cfg.AWS.SecretKey)
}

// newReconciler wires the provider and poller together.
func newReconciler(p provider.Provider, cfg *config.Config) *reconcile.Reconciler {
	poller := reconcile.NewPoller(p, cfg.Poll.MaxAttempts, cfg.Poll.BaseDelay(), cfg.Poll.MaxDelay())
	return reconcile.New(p, poller)
}

// newJournal opens the configured journal backend.
func newJournal(cfg *config.Config) (journal.Journal, error) {
	switch cfg.Journal.Backend {
	case "etcd":
		return journal.NewEtcdJournal(cfg.Journal.EtcdEndpoints)
	default:
		return journal.NewFileJournal(cfg.Journal.Path)
	}
}

// newProber builds the reachability probe used after launches.
func newProber() *probe.HTTPProbe {
	return probe.NewHTTPProbe(10, 2*time.Second, 30*time.Second)
}

// openSinks opens the inventory and connection-info files. With append
// set, existing content is kept; otherwise the files are rewritten.
func openSinks(cfg *config.Config, appendMode bool) (*inventory.Writer, func(), error) {
	flags := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	inv, err := os.OpenFile(cfg.Output.InventoryPath, flags, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open inventory sink: %w", err)
	}
	info, err := os.OpenFile(cfg.Output.ConnectionInfoPath, flags, 0644)
	if err != nil {
		inv.Close()
		return nil, nil, fmt.Errorf("failed to open connection-info sink: %w", err)
	}

	cleanup := func() {
		inv.Close()
		info.Close()
	}
	return inventory.NewWriter(inv, info), cleanup, nil
}
