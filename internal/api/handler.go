package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"faculty-status-backend/internal/board"
	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/portal"
	"faculty-status-backend/internal/watch"
	"faculty-status-backend/internal/ws"
)

// Deps are the services the handlers work with. DB, Hub and WebPush may be
// nil; the routes that need them then answer 503.
type Deps struct {
	DB       *gorm.DB
	Cache    *facultycache.Cache
	Sessions *watch.Registry
	Portal   portal.Client
	Hub      *ws.Hub
	WebPush  *webpush.Options
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db       *gorm.DB
	cache    *facultycache.Cache
	sessions *watch.Registry
	portal   portal.Client
	hub      *ws.Hub
	webpush  *webpush.Options
	purge    func()
}

// NewHandler creates the API handler. When a hub is given, every session
// receives a fresh board over WebSocket after each cache change and stays
// alive while it has open streams.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		db:       d.DB,
		cache:    d.Cache,
		sessions: d.Sessions,
		portal:   d.Portal,
		hub:      d.Hub,
		webpush:  d.WebPush,
		purge:    func() {},
	}
	if h.portal == nil {
		h.portal = portal.Disabled{}
	}
	if h.sessions != nil {
		h.sessions.SetViewListener(h.sessionViewed)
		if h.hub != nil {
			h.sessions.SetKeepAlive(func(id string) bool {
				return h.hub.Connections(id) > 0
			})
		}
	}
	return h
}

// sessionViewed runs once a session has handled a cache change, so cached
// responses never outlive the subscriptions it just fulfilled.
func (h *Handler) sessionViewed(s *watch.Session, v facultycache.View) {
	h.purge()
	if h.hub != nil {
		h.hub.Send(s.ID(), boardMessage(s, v))
	}
}

func boardMessage(s *watch.Session, v facultycache.View) ws.Message {
	q := board.Query{Tab: board.TabHome, Filter: board.FilterAll}
	return ws.Message{
		Type:    ws.TypeBoard,
		Loading: v.Loading,
		Cards:   board.Build(v, q, s.Faculty(), s.IsSubscribed),
	}
}
