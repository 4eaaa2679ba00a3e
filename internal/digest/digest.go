// Package digest assembles resolved articles into the categorized, ordered
// document handed to the external renderer. Build is a pure function of its
// inputs: no network, no cache, stable output for stable input.
package digest

import (
	"sort"
	"time"

	"newsdigest/internal/summarize"
)

// Item is one summarized article as the renderer sees it. Published is nil
// for undated articles.
type Item struct {
	Title     string     `json:"title"`
	Link      string     `json:"link"`
	Source    string     `json:"source"`
	Published *time.Time `json:"published,omitempty"`
	Summary   string     `json:"summary"`
}

// Section is one category with its articles in presentation order.
type Section struct {
	Name  string `json:"category"`
	Items []Item `json:"items"`
}

// Digest is the whole run output. Built fresh every run, never persisted by
// the pipeline itself.
type Digest struct {
	GeneratedAt time.Time `json:"generated_at"`
	Sections    []Section `json:"categories"`
}

// Build groups resolved articles by category and orders them: within a
// category, publish date descending with undated articles last in input
// (fetch) order; categories follow the configured priority list, then any
// unlisted categories alphabetically.
func Build(generatedAt time.Time, resolved []summarize.Resolved, priority []string) Digest {
	type dated struct {
		item    Item
		at      time.Time
		hasDate bool
	}

	groups := make(map[string][]dated)
	for _, r := range resolved {
		a := r.Article
		d := dated{
			item: Item{
				Title:   a.Title,
				Link:    a.Link,
				Source:  a.Source,
				Summary: r.Summary,
			},
			at:      a.Published,
			hasDate: a.HasDate,
		}
		if a.HasDate {
			pub := a.Published
			d.item.Published = &pub
		}
		groups[a.Category] = append(groups[a.Category], d)
	}

	rank := make(map[string]int, len(priority))
	for i, name := range priority {
		rank[name] = i
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, iok := rank[names[i]]
		rj, jok := rank[names[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return names[i] < names[j]
		}
	})

	d := Digest{GeneratedAt: generatedAt}
	for _, name := range names {
		items := groups[name]
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].hasDate != items[j].hasDate {
				return items[i].hasDate
			}
			if !items[i].hasDate {
				return false // undated keep input order
			}
			return items[i].at.After(items[j].at)
		})

		sec := Section{Name: name, Items: make([]Item, len(items))}
		for i, it := range items {
			sec.Items[i] = it.item
		}
		d.Sections = append(d.Sections, sec)
	}
	return d
}
