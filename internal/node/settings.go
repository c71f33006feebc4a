package node

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/submit"
	"github.com/luna-net/luna-node/internal/util"
)

// mutateSettings applies fn to a copy of the settings under lock, then
// persists and installs the result. All settings writes funnel through
// here so the store never diverges from memory.
func (n *Node) mutateSettings(fn func(*storage.Settings)) error {
	n.mu.Lock()
	updated := n.settings
	fn(&updated)
	if err := n.store.SaveSettings(&updated); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("failed to persist settings: %w", err)
	}
	n.settings = updated
	n.mu.Unlock()
	return nil
}

// UpdateWalletAddress sets the payout address after format validation
func (n *Node) UpdateWalletAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if err := submit.ValidateAddress(addr); err != nil {
		return err
	}
	if err := n.mutateSettings(func(s *storage.Settings) { s.PayoutAddress = addr }); err != nil {
		return err
	}
	util.Infof("Payout address updated: %s", addr)
	n.appendLog(fmt.Sprintf("Payout address updated: %s", addr), "info")
	return nil
}

// UpdateDifficulty sets the configured mining difficulty (1-9)
func (n *Node) UpdateDifficulty(difficulty int) error {
	if difficulty < 1 || difficulty > 9 {
		return fmt.Errorf("difficulty must be between 1 and 9, got %d", difficulty)
	}
	if err := n.mutateSettings(func(s *storage.Settings) { s.Difficulty = difficulty }); err != nil {
		return err
	}
	util.Infof("Mining difficulty set to %d", difficulty)
	n.appendLog(fmt.Sprintf("Difficulty set to %d", difficulty), "info")
	return nil
}

// UpdateNodeURL switches the chain endpoint. The client is rebuilt whole
// and the poll cache dropped so the next status read hits the new host.
func (n *Node) UpdateNodeURL(raw string) error {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid endpoint URL %q", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("endpoint URL must be http or https, got %q", parsed.Scheme)
	}

	if err := n.mutateSettings(func(s *storage.Settings) { s.EndpointURL = raw }); err != nil {
		return err
	}

	n.manager.SetEndpoint(raw)
	n.throttle.Invalidate()
	n.appendLog(fmt.Sprintf("Chain endpoint set to %s", raw), "info")
	return nil
}

// UpdateMiningInterval sets the delay between failed attempts, in seconds
func (n *Node) UpdateMiningInterval(seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("mining interval must be >= 0, got %d", seconds)
	}
	if err := n.mutateSettings(func(s *storage.Settings) { s.MiningInterval = seconds }); err != nil {
		return err
	}
	util.Infof("Mining interval set to %ds", seconds)
	return nil
}

// UpdatePerformanceLevel sets the CPU share (10-100) and rebuilds the
// hash strategy with the derived worker count.
func (n *Node) UpdatePerformanceLevel(level int) error {
	if level < 10 || level > 100 {
		return fmt.Errorf("performance level must be between 10 and 100, got %d", level)
	}
	if err := n.mutateSettings(func(s *storage.Settings) {
		s.PerformanceLevel = level
		s.HashWorkerCount = 0
	}); err != nil {
		return err
	}

	n.rebuildStrategy()
	util.Infof("Performance level set to %d%%", level)
	n.appendLog(fmt.Sprintf("Performance level set to %d%%", level), "info")
	return nil
}

// UpdateHashAlgorithm switches the digest algorithm and rebuilds the
// strategy. The new strategy applies from the next attempt.
func (n *Node) UpdateHashAlgorithm(name string) error {
	if err := n.mutateSettings(func(s *storage.Settings) { s.HashAlgorithm = name }); err != nil {
		return err
	}

	n.rebuildStrategy()
	util.Infof("Hash algorithm set to %s", n.strategyRef().Algorithm())
	n.appendLog(fmt.Sprintf("Hash algorithm set to %s", n.strategyRef().Algorithm()), "info")
	return nil
}

// SetGPUAcceleration enables or disables the GPU path. Enabling clears a
// session CPU fallback so the GPU gets another chance.
func (n *Node) SetGPUAcceleration(enabled bool) error {
	if enabled && !n.engine.Backend().Available() {
		return fmt.Errorf("no GPU backend available")
	}
	if err := n.mutateSettings(func(s *storage.Settings) { s.UseGPU = enabled }); err != nil {
		return err
	}
	if enabled {
		n.sessionCPU.Store(false)
	}
	util.Infof("GPU acceleration %s", onOff(enabled))
	n.appendLog(fmt.Sprintf("GPU acceleration %s", onOff(enabled)), "info")
	return nil
}

// SetAutoMine persists the auto-mine-on-boot flag
func (n *Node) SetAutoMine(enabled bool) error {
	if err := n.mutateSettings(func(s *storage.Settings) { s.AutoMine = enabled }); err != nil {
		return err
	}
	util.Infof("Auto-mine %s", onOff(enabled))
	return nil
}

func (n *Node) rebuildStrategy() {
	settings := n.Settings()
	strategy := buildStrategy(settings)

	n.mu.Lock()
	n.strategy = strategy
	n.mu.Unlock()

	n.pipeline.SetStrategy(strategy)
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
