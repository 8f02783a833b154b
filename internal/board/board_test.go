package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/model"
)

func testView() facultycache.View {
	return facultycache.View{
		Names: map[string]string{
			"SJT-101": "Ada Lovelace",
			"SJT-102": "Alan Turing",
			"TT-201":  "Grace Hopper",
		},
		Statuses: map[string]model.FacultyStatus{
			"SJT-101": {Status: model.StatusAvailable, UpdatedAt: "t1"},
			"SJT-102": {Status: model.StatusBusy, UpdatedAt: "t2"},
		},
		WaitCounts: map[string]int{"SJT-102": 3},
	}
}

func ids(cards []Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.CabinID)
	}
	return out
}

func TestBuild(t *testing.T) {
	mine := []model.Faculty{
		{CabinID: "TT-201", Name: "Grace Hopper"},
		{CabinID: "UNKNOWN-Edsger-Dijkstra", Name: "Edsger Dijkstra"},
		{CabinID: "SJT-101", Name: "Ada Lovelace"},
	}

	testCases := []struct {
		name  string
		query Query
		want  []string
	}{
		{"home lists config sorted", Query{Tab: TabHome, Filter: FilterAll}, []string{"SJT-101", "SJT-102", "TT-201"}},
		{"my keeps portal order", Query{Tab: TabMy, Filter: FilterAll}, []string{"TT-201", "UNKNOWN-Edsger-Dijkstra", "SJT-101"}},
		{"search by name ignores case", Query{Tab: TabHome, Search: "TURING"}, []string{"SJT-102"}},
		{"search by cabin id", Query{Tab: TabHome, Search: "sjt"}, []string{"SJT-101", "SJT-102"}},
		{"available filter", Query{Tab: TabHome, Filter: FilterAvailable}, []string{"SJT-101"}},
		{"busy filter", Query{Tab: TabHome, Filter: FilterBusy}, []string{"SJT-102"}},
		{"unknown filter", Query{Tab: TabMy, Filter: FilterUnknown}, []string{"TT-201", "UNKNOWN-Edsger-Dijkstra"}},
		{"search and filter combine", Query{Tab: TabHome, Search: "a", Filter: FilterBusy}, []string{"SJT-102"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ids(Build(testView(), tc.query, mine, nil)))
		})
	}
}

func TestBuild_CardFields(t *testing.T) {
	subscribed := func(id string) bool { return id == "SJT-102" }
	cards := Build(testView(), Query{Tab: TabHome, Filter: FilterBusy}, nil, subscribed)
	require.Len(t, cards, 1)
	assert.Equal(t, Card{
		CabinID:    "SJT-102",
		Name:       "Alan Turing",
		Status:     model.StatusBusy,
		UpdatedAt:  "t2",
		WaitCount:  3,
		Subscribed: true,
	}, cards[0])
}

func TestLookup(t *testing.T) {
	card, ok := Lookup(testView(), "SJT-101", nil)
	require.True(t, ok)
	assert.Equal(t, "Ada Lovelace", card.Name)

	_, ok = Lookup(testView(), "NOPE", nil)
	assert.False(t, ok)
}

func TestPaginate(t *testing.T) {
	cards := make([]Card, 9)
	for i := range cards {
		cards[i].CabinID = string(rune('A' + i))
	}

	p := Paginate(cards, 1)
	assert.Equal(t, []string{"A", "B", "C", "D"}, ids(p.Cards))
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 9, p.Total)

	p = Paginate(cards, 3)
	assert.Equal(t, []string{"I"}, ids(p.Cards))

	p = Paginate(cards, 4)
	assert.Empty(t, p.Cards)
	assert.NotNil(t, p.Cards)

	p = Paginate(cards, 0)
	assert.Equal(t, 1, p.Number)

	assert.Equal(t, 0, Paginate(nil, 1).TotalPages)
}

func TestParse(t *testing.T) {
	tab, err := ParseTab("my")
	require.NoError(t, err)
	assert.Equal(t, TabMy, tab)

	tab, err = ParseTab("")
	require.NoError(t, err)
	assert.Equal(t, TabHome, tab)

	_, err = ParseTab("profile")
	assert.Error(t, err)

	f, err := ParseFilter("busy")
	require.NoError(t, err)
	assert.Equal(t, FilterBusy, f)

	f, err = ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	_, err = ParseFilter("away")
	assert.Error(t, err)
}
