package memo

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/smallbiznis/paymatch/internal/config"
)

type Kind string

const (
	KindUnrelated    Kind = "unrelated"
	KindSubscription Kind = "subscription"
	KindAddon        Kind = "addon"
)

var ErrNoMatch = errors.New("memo_no_match")

// Result is the outcome of parsing one transfer memo. ActorID and CatalogID
// are lower-cased; CatalogID may be a truncated prefix of the real id.
type Result struct {
	Kind      Kind
	ActorID   string
	CatalogID string
}

type patterns struct {
	cfg     config.ReconcileConfig
	actor   *regexp.Regexp
	plan    *regexp.Regexp
	addonID *regexp.Regexp
}

// Extractor parses memos using the live matching rules from the holder.
type Extractor struct {
	holder *config.ReconcileConfigHolder

	mu      sync.Mutex
	current *patterns
}

func NewExtractor(holder *config.ReconcileConfigHolder) *Extractor {
	return &Extractor{holder: holder}
}

// Extract classifies memo and pulls out the actor and catalog identifiers.
// Unrelated memos return a zero Result with Kind KindUnrelated and a nil error.
// A marked memo without both identifiers returns ErrNoMatch.
func (e *Extractor) Extract(memo string) (Result, error) {
	p, err := e.patterns()
	if err != nil {
		return Result{Kind: KindUnrelated}, err
	}

	lowered := strings.ToLower(memo)
	if !strings.Contains(lowered, strings.ToLower(p.cfg.PrimaryMarker)) {
		return Result{Kind: KindUnrelated}, nil
	}

	kind := KindSubscription
	catalog := p.plan
	withoutIDMarker := strings.ReplaceAll(lowered, strings.ToLower(p.cfg.AddonIDMarker), " ")
	if strings.Contains(withoutIDMarker, strings.ToLower(p.cfg.AddonMarker)) {
		kind = KindAddon
		catalog = p.addonID
	}

	result := Result{Kind: kind}
	if m := p.actor.FindStringSubmatch(lowered); len(m) == 2 {
		result.ActorID = m[1]
	}
	if m := catalog.FindStringSubmatch(lowered); len(m) == 2 {
		result.CatalogID = m[1]
	}
	if result.ActorID == "" || result.CatalogID == "" {
		return result, ErrNoMatch
	}
	return result, nil
}

func (e *Extractor) patterns() (*patterns, error) {
	cfg := config.DefaultReconcileConfig()
	if e.holder != nil {
		cfg = e.holder.Get()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && e.current.cfg == cfg {
		return e.current, nil
	}

	p, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	e.current = p
	return p, nil
}

func compile(cfg config.ReconcileConfig) (*patterns, error) {
	if err := config.ValidateReconcileConfig(cfg); err != nil {
		return nil, err
	}
	actor, err := regexp.Compile(fmt.Sprintf(`%s:?\s*([0-9a-f]{%d})`, marker(cfg.ActorMarker), cfg.ActorIDLength))
	if err != nil {
		return nil, fmt.Errorf("compile actor pattern: %w", err)
	}
	plan, err := regexp.Compile(fmt.Sprintf(`%s:?\s*([0-9a-f]{4,24})`, marker(cfg.PlanMarker)))
	if err != nil {
		return nil, fmt.Errorf("compile plan pattern: %w", err)
	}
	addonID, err := regexp.Compile(fmt.Sprintf(`%s:?\s*([0-9a-f]{4,24})`, marker(cfg.AddonIDMarker)))
	if err != nil {
		return nil, fmt.Errorf("compile addon pattern: %w", err)
	}
	return &patterns{cfg: cfg, actor: actor, plan: plan, addonID: addonID}, nil
}

// marker quotes a configured marker for use against lower-cased memo text.
func marker(value string) string {
	return regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(value)))
}
