package fleet

import (
	"sync"

	"github.com/revolutionized-iot2/riot2-orchestrator/model"
)

// templateIndex maps template ids to templates and command ids to their
// owning node. It is rebuilt when node configurations or variables change.
type templateIndex struct {
	nodesGen, varsGen uint64
	reports           map[string]model.ReportTemplate
	commands          map[string]model.CommandTemplate
	owners            map[string]string
}

// ruleIndex groups rules by the report id of their leading trigger.
type ruleIndex struct {
	gen       uint64
	byTrigger map[string][]*model.Rule
}

type indexes struct {
	mu        sync.Mutex
	templates *templateIndex
	rules     *ruleIndex
}

func (s *Service) templateIndex() *templateIndex {
	nodesGen := s.store.Generation(model.KindNodeConfiguration)
	varsGen := s.store.Generation(model.KindVariable)
	s.idx.mu.Lock()
	defer s.idx.mu.Unlock()
	if t := s.idx.templates; t != nil && t.nodesGen == nodesGen && t.varsGen == varsGen && nodesGen > 0 && varsGen > 0 {
		return t
	}

	t := &templateIndex{
		nodesGen: nodesGen,
		varsGen:  varsGen,
		reports:  make(map[string]model.ReportTemplate),
		commands: make(map[string]model.CommandTemplate),
		owners:   make(map[string]string),
	}
	for _, n := range s.NodeConfigurations() {
		for _, dc := range n.DeviceConfigurations {
			for _, rt := range dc.ReportTemplates {
				t.reports[rt.ID] = rt
			}
			for _, ct := range dc.CommandTemplates {
				t.commands[ct.ID] = ct
				t.owners[ct.ID] = n.ID
			}
		}
	}
	for _, v := range s.Variables() {
		if _, taken := t.reports[v.ID]; !taken {
			t.reports[v.ID] = v.ReportTemplate()
		}
		if _, taken := t.commands[v.ID]; !taken {
			t.commands[v.ID] = v.CommandTemplate()
		}
	}
	s.idx.templates = t
	return t
}

func (s *Service) ruleIndex() *ruleIndex {
	gen := s.store.Generation(model.KindRule)
	s.idx.mu.Lock()
	defer s.idx.mu.Unlock()
	if r := s.idx.rules; r != nil && r.gen == gen && gen > 0 {
		return r
	}

	r := &ruleIndex{gen: gen, byTrigger: make(map[string][]*model.Rule)}
	for _, rule := range s.Rules() {
		if trig, ok := rule.Trigger(); ok {
			r.byTrigger[trig.ReportID] = append(r.byTrigger[trig.ReportID], rule)
		}
	}
	s.idx.rules = r
	return r
}

// RulesTriggeredBy returns the rules whose leading trigger names reportID,
// in store order. The rules are shared with the index and must not be
// modified.
func (s *Service) RulesTriggeredBy(reportID string) []*model.Rule {
	return append([]*model.Rule(nil), s.ruleIndex().byTrigger[reportID]...)
}
