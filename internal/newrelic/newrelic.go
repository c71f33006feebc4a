// Package newrelic provides New Relic APM integration for monitoring.
package newrelic

import (
	"sync"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/luna-net/luna-node/internal/config"
	"github.com/luna-net/luna-node/internal/util"
)

// Agent wraps New Relic APM functionality. All methods are safe on an
// agent whose application never connected.
type Agent struct {
	cfg *config.NewRelicConfig
	app *newrelic.Application
	mu  sync.RWMutex
}

// NewAgent creates a new New Relic agent
func NewAgent(cfg *config.NewRelicConfig) *Agent {
	return &Agent{
		cfg: cfg,
	}
}

// Start initializes the New Relic agent
func (a *Agent) Start() error {
	if !a.cfg.Enabled {
		util.Info("New Relic APM disabled")
		return nil
	}

	if a.cfg.LicenseKey == "" {
		util.Warn("New Relic license key not configured, APM disabled")
		return nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(a.cfg.AppName),
		newrelic.ConfigLicense(a.cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
	)
	if err != nil {
		return err
	}

	// Wait for connection (up to 5 seconds)
	if err := app.WaitForConnection(5 * time.Second); err != nil {
		util.Warnf("New Relic connection timeout: %v (will retry in background)", err)
	}

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	util.Infof("New Relic APM enabled for app: %s", a.cfg.AppName)
	return nil
}

// Stop shuts down the New Relic agent
func (a *Agent) Stop() {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		util.Info("Shutting down New Relic agent")
		app.Shutdown(10 * time.Second)
	}
}

// IsEnabled returns true if New Relic is enabled and connected
func (a *Agent) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.app != nil
}

// StartTransaction starts a new New Relic transaction. The returned
// transaction is nil when APM is off; Transaction methods are nil-safe.
func (a *Agent) StartTransaction(name string) *newrelic.Transaction {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app == nil {
		return nil
	}
	return app.StartTransaction(name)
}

// RecordCustomEvent records a custom event
func (a *Agent) RecordCustomEvent(eventType string, params map[string]interface{}) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomEvent(eventType, params)
	}
}

// RecordCustomMetric records a custom metric
func (a *Agent) RecordCustomMetric(name string, value float64) {
	a.mu.RLock()
	app := a.app
	a.mu.RUnlock()

	if app != nil {
		app.RecordCustomMetric(name, value)
	}
}

// RecordBlockMined records an accepted block event
func (a *Agent) RecordBlockMined(index int64, difficulty int, reward float64, method string) {
	a.RecordCustomEvent("BlockMined", map[string]interface{}{
		"index":      index,
		"difficulty": difficulty,
		"reward":     reward,
		"method":     method,
	})
}

// RecordMiningAttempt records one completed attempt
func (a *Agent) RecordMiningAttempt(success bool, elapsed float64, method string) {
	status := "failure"
	if success {
		status = "success"
	}
	a.RecordCustomEvent("MiningAttempt", map[string]interface{}{
		"status":  status,
		"elapsed": elapsed,
		"method":  method,
	})
}

// UpdateMiningMetrics publishes the live hash rate and totals
func (a *Agent) UpdateMiningMetrics(hashRate float64, blocksMined int, totalReward float64) {
	a.RecordCustomMetric("Custom/Mining/HashRate", hashRate)
	a.RecordCustomMetric("Custom/Mining/BlocksMined", float64(blocksMined))
	a.RecordCustomMetric("Custom/Mining/TotalReward", totalReward)
}

// UpdateNetworkMetrics publishes the observed chain state
func (a *Agent) UpdateNetworkMetrics(height int64, mempoolSize int) {
	a.RecordCustomMetric("Custom/Network/Height", float64(height))
	a.RecordCustomMetric("Custom/Network/MempoolSize", float64(mempoolSize))
}
