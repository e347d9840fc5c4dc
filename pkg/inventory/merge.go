package inventory

import (
	"invcrawler/pkg/logger"
	"invcrawler/pkg/model"
	"invcrawler/pkg/steam"
)

// merger accumulates inventory pages. Assets are counted per class, each
// class is described once (the first description seen wins) and classes
// that describe the same stack are summed when the result is built.
type merger struct {
	logger       logger.Logger
	counts       map[string]int
	descriptions map[string]steam.Description
	order        []string
}

func newMerger(log logger.Logger) *merger {
	return &merger{
		logger:       log,
		counts:       make(map[string]int),
		descriptions: make(map[string]steam.Description),
	}
}

func (m *merger) addPage(p *steam.InventoryPage) {
	for _, d := range p.Descriptions {
		key := d.ClassKey()
		prev, ok := m.descriptions[key]
		if !ok {
			m.descriptions[key] = d
			continue
		}
		if Describe(prev).Key() != Describe(d).Key() {
			m.logger.WarnWithFields("conflicting description for class, keeping the first", map[string]interface{}{
				"class":   key,
				"kept":    prev.MarketHashName,
				"ignored": d.MarketHashName,
			})
		}
	}

	for _, a := range p.Assets {
		key := a.ClassKey()
		if _, seen := m.counts[key]; !seen {
			m.order = append(m.order, key)
		}
		m.counts[key] += a.Count()
	}
}

// stacks returns the merged stacks in order of first appearance
func (m *merger) stacks() []*model.ItemStack {
	byKey := make(map[string]*model.ItemStack)
	var out []*model.ItemStack

	for _, class := range m.order {
		d, ok := m.descriptions[class]
		if !ok {
			m.logger.WarnWithFields("asset class without description", map[string]interface{}{
				"class": class,
				"count": m.counts[class],
			})
			continue
		}

		stack := Describe(d)
		key := stack.Key()
		if existing, ok := byKey[key]; ok {
			existing.Amount += m.counts[class]
			continue
		}
		stack.Amount = m.counts[class]
		byKey[key] = stack
		out = append(out, stack)
	}

	return out
}
