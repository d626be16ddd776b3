// Package ua scores a request's declared client-identity string against a
// signature set plus structural consistency checks.
//
// The signature set is configuration, not logic: the classifier is stateless
// once constructed and safe for concurrent use.
package ua

import (
	"regexp"
	"strconv"
	"strings"
)

// Result is the classifier's verdict on a single user-agent string.
type Result struct {
	Score uint8    `json:"score"`
	Flags []string `json:"flags"`
	IsBot bool     `json:"isBot"`
}

// botThreshold is the score above which a user-agent is considered automated.
const botThreshold = 40

// Scoring weights, additive and capped at 100.
const (
	weightAutomationSignature = 50
	weightMissingBaseline     = 20
	weightMissingEngine       = 15
	weightShortString         = 10
	weightVersionConflict     = 25

	minBrowserUALength = 50
)

// VersionRule describes a structural inconsistency between two named
// components: if both versions are present and each falls inside its range,
// the combination is impossible for a real browser.
type VersionRule struct {
	Name       string `toml:"name"`
	ComponentA string `toml:"component_a"`
	MinA       int    `toml:"min_a"`
	MaxA       int    `toml:"max_a"`
	ComponentB string `toml:"component_b"`
	MinB       int    `toml:"min_b"`
	MaxB       int    `toml:"max_b"`
}

// Signatures is the configuration table for the classifier.
type Signatures struct {
	// Automation holds lower-cased substrings that identify automation
	// drivers, scripted HTTP clients, headless markers, and API test tools.
	Automation []string `toml:"automation"`
	// Engines holds recognized rendering-engine tokens.
	Engines []string `toml:"engines"`
	// Rules holds version-consistency rules.
	Rules []VersionRule `toml:"rules"`
}

// DefaultSignatures returns the built-in signature set. Deployments override
// it via the signatures config file.
func DefaultSignatures() Signatures {
	return Signatures{
		Automation: []string{
			// Browser-automation drivers
			"selenium", "webdriver", "puppeteer", "playwright", "cypress",
			"phantomjs", "nightwatch", "zombie",
			// Headless markers
			"headless", "headlesschrome",
			// Scripted HTTP clients
			"curl", "wget", "python-requests", "python-urllib", "go-http-client",
			"java/", "okhttp", "libwww", "scrapy", "aiohttp", "httpx",
			// API testing tools
			"postman", "insomnia", "httpie",
		},
		Engines: []string{"webkit", "gecko", "blink", "trident", "presto"},
		Rules: []VersionRule{
			{
				// Chrome 100+ always ships a Safari/537.36 token; a Safari
				// major below 500 next to a modern Chrome is fabricated.
				Name:       "chrome_safari_mismatch",
				ComponentA: "chrome", MinA: 100, MaxA: 999,
				ComponentB: "safari", MinB: 1, MaxB: 499,
			},
		},
	}
}

// Classifier scores user-agent strings. Construct with NewClassifier.
type Classifier struct {
	sigs       Signatures
	versionRes map[string]*regexp.Regexp
}

// NewClassifier builds a classifier from a signature set.
func NewClassifier(sigs Signatures) *Classifier {
	c := &Classifier{
		sigs:       sigs,
		versionRes: make(map[string]*regexp.Regexp),
	}
	for _, rule := range sigs.Rules {
		for _, comp := range []string{rule.ComponentA, rule.ComponentB} {
			if _, ok := c.versionRes[comp]; !ok {
				c.versionRes[comp] = regexp.MustCompile(regexp.QuoteMeta(comp) + `/(\d+)`)
			}
		}
	}
	return c
}

// Classify scores one client-identity string.
func (c *Classifier) Classify(userAgent string) Result {
	lower := strings.ToLower(userAgent)
	score := 0
	var flags []string

	for _, sig := range c.sigs.Automation {
		if strings.Contains(lower, sig) {
			score += weightAutomationSignature
			flags = append(flags, "AUTOMATION_SIGNATURE")
			break
		}
	}

	if !strings.Contains(lower, "mozilla") {
		score += weightMissingBaseline
		flags = append(flags, "MISSING_BASELINE_TOKEN")
	}

	hasEngine := false
	for _, engine := range c.sigs.Engines {
		if strings.Contains(lower, engine) {
			hasEngine = true
			break
		}
	}
	if !hasEngine {
		score += weightMissingEngine
		flags = append(flags, "NO_RENDERING_ENGINE")
	}

	if len(userAgent) < minBrowserUALength {
		score += weightShortString
		flags = append(flags, "SHORT_UA_STRING")
	}

	if rule, fired := c.versionConflict(lower); fired {
		score += weightVersionConflict
		flags = append(flags, "VERSION_CONFLICT:"+rule)
	}

	if score > 100 {
		score = 100
	}

	return Result{
		Score: uint8(score),
		Flags: flags,
		IsBot: score > botThreshold,
	}
}

// versionConflict reports the first rule whose two component version ranges
// are simultaneously satisfied.
func (c *Classifier) versionConflict(lower string) (string, bool) {
	for _, rule := range c.sigs.Rules {
		va, okA := c.majorVersion(lower, rule.ComponentA)
		vb, okB := c.majorVersion(lower, rule.ComponentB)
		if !okA || !okB {
			continue
		}
		if va >= rule.MinA && va <= rule.MaxA && vb >= rule.MinB && vb <= rule.MaxB {
			return rule.Name, true
		}
	}
	return "", false
}

func (c *Classifier) majorVersion(lower, component string) (int, bool) {
	re, ok := c.versionRes[component]
	if !ok {
		return 0, false
	}
	m := re.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}
