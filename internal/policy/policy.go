// Package policy turns configured cookie rules into event handlers.
package policy

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/danmuck/mcrelay/internal/config"
	"github.com/danmuck/mcrelay/internal/event"
	"github.com/danmuck/mcrelay/internal/exchange"
	"github.com/danmuck/mcrelay/internal/protocol/key"
)

// Pattern matches cookie keys: either one exact key or every key of a
// namespace ("ns:*").
type Pattern struct {
	namespace string
	exact     key.Key
}

func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	if ns, ok := strings.CutSuffix(s, ":*"); ok {
		// validate the namespace through a throwaway key
		k, err := key.New(ns, "x")
		if err != nil {
			return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
		}
		return Pattern{namespace: k.Namespace()}, nil
	}
	k, err := key.Parse(s)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s, err)
	}
	return Pattern{exact: k}, nil
}

func (p Pattern) Match(k key.Key) bool {
	if p.namespace != "" {
		return k.Namespace() == p.namespace
	}
	return p.exact == k
}

func (p Pattern) String() string {
	if p.namespace != "" {
		return p.namespace + ":*"
	}
	return p.exact.String()
}

// Rule sets Result on every event whose original key matches Pattern.
type Rule struct {
	Pattern  Pattern
	Priority int
	Result   exchange.Result
}

func (r Rule) Handle(_ context.Context, ev *exchange.CookieRequestEvent) {
	if r.Pattern.Match(ev.OriginalKey()) {
		ev.SetResult(r.Result)
	}
}

func (r Rule) String() string {
	return fmt.Sprintf("%s -> %s", r.Pattern, r.Result)
}

// Compile validates configured rules and builds their results.
func Compile(rules []config.RuleConfig) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i, rc := range rules {
		rule, err := compile(rc)
		if err != nil {
			return nil, fmt.Errorf("cookie.rules[%d]: %w", i, err)
		}
		out = append(out, rule)
	}
	return out, nil
}

func compile(rc config.RuleConfig) (Rule, error) {
	if err := config.ValidateRule(rc); err != nil {
		return Rule{}, err
	}
	pattern, err := ParsePattern(rc.Key)
	if err != nil {
		return Rule{}, err
	}
	rule := Rule{Pattern: pattern, Priority: rc.Priority}
	switch strings.ToLower(strings.TrimSpace(rc.Action)) {
	case config.ActionForward:
		rule.Result = exchange.Forward()
	case config.ActionHandled:
		rule.Result = exchange.Handled()
	case config.ActionRewrite:
		to, err := key.Parse(rc.To)
		if err != nil {
			return Rule{}, fmt.Errorf("rewrite target: %w", err)
		}
		rule.Result = exchange.ForwardAs(to)
	case config.ActionRespond:
		if rc.NoData {
			rule.Result = exchange.Respond(exchange.NoPayload())
			break
		}
		data, err := base64.StdEncoding.DecodeString(rc.Data)
		if err != nil {
			return Rule{}, fmt.Errorf("respond data: %w", err)
		}
		rule.Result = exchange.Respond(exchange.PayloadOf(data))
	}
	return rule, nil
}

// Install subscribes every rule on bus. The returned func removes them all.
func Install(bus *event.Bus[*exchange.CookieRequestEvent], rules []Rule) func() {
	removers := make([]func(), 0, len(rules))
	for _, rule := range rules {
		removers = append(removers, bus.Subscribe("policy "+rule.Pattern.String(), rule.Priority, rule.Handle))
	}
	return func() {
		for _, remove := range removers {
			remove()
		}
	}
}
