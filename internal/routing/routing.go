// Package routing manages system DNS blocking and reloads of the capture
// interface.
package routing

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rsclarke/dnsmon/internal/logging"
	"go.uber.org/zap"
)

// Runner abstracts exec.Command for testability.
type Runner interface {
	Run(name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) error {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

// Reloader re-reads routing preferences for the virtual interface.
type Reloader interface {
	Reload(reason string)
}

// Config configures a Router.
type Config struct {
	// ExemptUID keeps DNS open for processes owned by this user, so the
	// daemon can bootstrap. A negative value exempts nobody.
	ExemptUID int
	Runner    Runner   // defaults to exec
	Reloader  Reloader // optional
}

// Router installs iptables rules that reject DNS to anything other than
// loopback, and forwards interface reloads to the capture proxy.
type Router struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Router.
func New(cfg Config, logger *zap.Logger) *Router {
	if cfg.Runner == nil {
		cfg.Runner = execRunner{}
	}
	return &Router{cfg: cfg, logger: logger}
}

type tool struct {
	name     string
	loopback string
}

var tools = []tool{
	{name: "iptables", loopback: "127.0.0.0/8"},
	{name: "ip6tables", loopback: "::1/128"},
}

// DenySystemDNS installs the reject rules. Rules already present are left
// alone.
func (r *Router) DenySystemDNS() {
	for _, t := range tools {
		for _, proto := range []string{"udp", "tcp"} {
			rule := r.denyRule(t, proto)
			if err := r.ensureRule(t.name, "filter", "OUTPUT", rule); err != nil {
				r.logger.Warn("failed to deny system dns",
					zap.String("tool", t.name),
					zap.String("proto", proto),
					zap.Error(err),
				)
			}
		}
	}
	r.logger.Info("system dns denied")
}

// ReloadVirtualInterface asks the capture proxy to re-read its routing
// preferences.
func (r *Router) ReloadVirtualInterface(reason string) {
	if r.cfg.Reloader == nil {
		r.logger.Debug("no virtual interface to reload", logging.Reason(reason))
		return
	}
	r.logger.Info("reloading virtual interface", logging.Reason(reason))
	r.cfg.Reloader.Reload(reason)
}

func (r *Router) denyRule(t tool, proto string) []string {
	rule := []string{"-p", proto, "--dport", "53", "!", "-d", t.loopback}
	if r.cfg.ExemptUID >= 0 {
		rule = append(rule, "-m", "owner", "!", "--uid-owner", strconv.Itoa(r.cfg.ExemptUID))
	}
	return append(rule, "-j", "REJECT")
}

// ensureRule checks for the rule with -C and appends it with -A only when
// missing.
func (r *Router) ensureRule(name, table, chain string, ruleArgs []string) error {
	check := append([]string{"-t", table, "-C", chain}, ruleArgs...)
	if err := r.cfg.Runner.Run(name, check...); err == nil {
		return nil
	}
	add := append([]string{"-t", table, "-A", chain}, ruleArgs...)
	return r.cfg.Runner.Run(name, add...)
}
