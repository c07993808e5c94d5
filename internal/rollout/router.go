// Package rollout decides, per job URL, which extraction pipeline runs and
// where its output lands. Decisions are deterministic so the same URL always
// routes the same way under a fixed configuration.
package rollout

import (
	"crypto/sha256"
	"encoding/binary"
	"net/url"
	"strings"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Config holds the routing knobs. Zero value routes everything to the legacy
// pipeline and production storage.
type Config struct {
	// UseNewExtractor is the master switch. When false the new pipeline
	// never runs regardless of the other knobs.
	UseNewExtractor bool

	// ShadowMode sends every result to side storage instead of production,
	// whichever pipeline handled it, so runs can be compared offline
	// without touching live rows.
	ShadowMode bool

	// DomainAllowlist limits the new pipeline to specific hosts. Empty
	// means all hosts are eligible.
	DomainAllowlist []string

	// RolloutPercent admits this share of eligible URLs, bucketed by URL
	// hash, into the new pipeline. 100 admits everything.
	RolloutPercent int
}

// Router makes per-URL routing decisions. It carries no per-call state, so
// decisions depend only on the URL and the configuration.
type Router struct {
	cfg     Config
	allowed map[string]struct{}
}

// NewRouter builds a Router from cfg. The allowlist is normalized to
// lowercase hosts once at construction.
func NewRouter(cfg Config) *Router {
	allowed := make(map[string]struct{}, len(cfg.DomainAllowlist))
	for _, d := range cfg.DomainAllowlist {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			allowed[d] = struct{}{}
		}
	}
	return &Router{cfg: cfg, allowed: allowed}
}

// Route decides which pipeline handles rawURL and where the result is stored.
// The decision reasons are recorded for the extraction log. Shadow mode
// applies to every decision, including legacy fallbacks.
func (r *Router) Route(rawURL string) harvest.RouteDecision {
	if !r.cfg.UseNewExtractor {
		return r.decision(harvest.PipelineLegacy, "new_extractor_disabled")
	}

	host := hostOf(rawURL)
	if len(r.allowed) > 0 {
		if _, ok := r.allowed[host]; !ok {
			return r.decision(harvest.PipelineLegacy, "domain_not_allowlisted")
		}
	}

	if r.cfg.RolloutPercent < 100 {
		if bucket(rawURL) >= uint32(r.cfg.RolloutPercent) {
			return r.decision(harvest.PipelineLegacy, "outside_rollout_percent")
		}
	}

	reason := "new_pipeline"
	if r.cfg.ShadowMode {
		reason = "new_pipeline_shadow"
	}
	return r.decision(harvest.PipelineNew, reason)
}

func (r *Router) decision(pipeline harvest.PipelineVersion, reason string) harvest.RouteDecision {
	storage := harvest.StorageProduction
	if r.cfg.ShadowMode {
		storage = harvest.StorageShadow
	}
	return harvest.RouteDecision{
		Pipeline: pipeline,
		Storage:  storage,
		Reason:   reason,
	}
}

// bucket maps a URL to a stable value in [0, 100).
func bucket(rawURL string) uint32 {
	sum := sha256.Sum256([]byte(rawURL))
	return binary.BigEndian.Uint32(sum[:4]) % 100
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
