// Package board derives the dashboard card list from a cache view.
package board

import (
	"fmt"
	"sort"
	"strings"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
)

// CardsPerPage is the dashboard page size.
const CardsPerPage = 4

// Tab selects the source of the card list.
type Tab string

const (
	// TabHome lists every configured cabin.
	TabHome Tab = "HOME"
	// TabMy lists the student's personalized faculty.
	TabMy Tab = "MY"
)

// Filter restricts cards by status.
type Filter string

const (
	FilterAll       Filter = "ALL"
	FilterAvailable Filter = "AVAILABLE"
	FilterBusy      Filter = "BUSY"
	FilterUnknown   Filter = "UNKNOWN"
)

// ParseTab accepts a tab name in any case. Empty means HOME.
func ParseTab(s string) (Tab, error) {
	switch t := Tab(strings.ToUpper(strings.TrimSpace(s))); t {
	case "":
		return TabHome, nil
	case TabHome, TabMy:
		return t, nil
	default:
		return "", fmt.Errorf("unknown tab %q", s)
	}
}

// ParseFilter accepts a filter name in any case. Empty means ALL.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToUpper(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterAvailable, FilterBusy, FilterUnknown:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", s)
	}
}

// Card is one faculty tile.
type Card struct {
	CabinID    string       `json:"cabinId"`
	Name       string       `json:"name"`
	Status     model.Status `json:"status,omitempty"`
	UpdatedAt  string       `json:"updatedAt,omitempty"`
	WaitCount  int          `json:"waitCount"`
	Subscribed bool         `json:"subscribed"`
}

// Query describes what the dashboard shows.
type Query struct {
	Tab    Tab
	Search string
	Filter Filter
}

// Build returns the cards matching q. HOME cards are ordered by cabin id;
// MY cards keep the order of mine. subscribed may be nil.
func Build(v facultycache.View, q Query, mine []model.Faculty, subscribed func(cabinID string) bool) []Card {
	var entries []model.Faculty
	if q.Tab == TabMy {
		entries = mine
	} else {
		ids := make([]string, 0, len(v.Names))
		for id := range v.Names {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			entries = append(entries, model.Faculty{CabinID: id, Name: v.Names[id]})
		}
	}

	term := strings.ToLower(q.Search)
	cards := make([]Card, 0, len(entries))
	for _, e := range entries {
		if term != "" && !strings.Contains(strings.ToLower(e.Name), term) && !strings.Contains(strings.ToLower(e.CabinID), term) {
			continue
		}
		card := newCard(v, e, subscribed)
		if !matches(q.Filter, card.Status) {
			continue
		}
		cards = append(cards, card)
	}
	return cards
}

// Lookup returns the card of a single cabin known to the view.
func Lookup(v facultycache.View, cabinID string, subscribed func(cabinID string) bool) (Card, bool) {
	_, named := v.Names[cabinID]
	_, reported := v.Statuses[cabinID]
	if !named && !reported {
		return Card{}, false
	}
	return newCard(v, model.Faculty{CabinID: cabinID, Name: v.Name(cabinID)}, subscribed), true
}

func newCard(v facultycache.View, f model.Faculty, subscribed func(string) bool) Card {
	st := v.Statuses[f.CabinID]
	card := Card{
		CabinID:   f.CabinID,
		Name:      f.Name,
		Status:    st.Status,
		UpdatedAt: st.UpdatedAt,
		WaitCount: v.WaitCounts[f.CabinID],
	}
	if subscribed != nil {
		card.Subscribed = subscribed(f.CabinID)
	}
	return card
}

func matches(f Filter, s model.Status) bool {
	switch f {
	case FilterAvailable:
		return s == model.StatusAvailable
	case FilterBusy:
		return s == model.StatusBusy
	case FilterUnknown:
		return s == ""
	default:
		return true
	}
}

// Page is one page of cards. Number is 1-based.
type Page struct {
	Cards      []Card `json:"cards"`
	Number     int    `json:"page"`
	TotalPages int    `json:"totalPages"`
	Total      int    `json:"total"`
}

// Paginate returns page number n of cards. Pages past the end are empty.
func Paginate(cards []Card, n int) Page {
	if n < 1 {
		n = 1
	}
	total := len(cards)
	p := Page{
		Cards:      []Card{},
		Number:     n,
		TotalPages: (total + CardsPerPage - 1) / CardsPerPage,
		Total:      total,
	}
	start := (n - 1) * CardsPerPage
	if start >= total {
		return p
	}
	end := start + CardsPerPage
	if end > total {
		end = total
	}
	p.Cards = cards[start:end]
	return p
}
