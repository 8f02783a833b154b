package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"faculty-status-backend/internal/model"
)

var errConflict = errors.New("realtime: concurrent write")

// GormStore persists the document tree in the realtime_nodes table. Writes
// made through this instance are pushed to listeners immediately; writes
// made by other processes are picked up by Run.
type GormStore struct {
	db  *gorm.DB
	mu  sync.Mutex
	hub *hub
	now func() time.Time
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a GORM-backed store. The table must already exist.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:  db,
		hub: newHub(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe implements Store.
func (g *GormStore) Subscribe(path string, fn Listener) (Unsubscribe, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	snap, err := g.snapshot(context.Background(), g.db, p)
	if err != nil {
		return nil, err
	}
	return g.hub.add(p, fn, snap), nil
}

// Get implements Store.
func (g *GormStore) Get(ctx context.Context, path string) (Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	return g.snapshot(ctx, g.db, p)
}

// Set implements Store.
func (g *GormStore) Set(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	raw, del, err := encodeValue(value)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var touched []string
	err = g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var werr error
		touched, werr = g.replaceSubtree(tx, p)
		if werr != nil {
			return werr
		}
		if del {
			return tx.Where("path = ?", p).Delete(&model.RealtimeNode{}).Error
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]any{
				"value":      string(raw),
				"version":    gorm.Expr("realtime_nodes.version + 1"),
				"updated_at": g.now(),
			}),
		}).Create(&model.RealtimeNode{Path: p, Value: string(raw), Version: 1, UpdatedAt: g.now()}).Error
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	return g.notify(ctx, touched)
}

// Transaction implements Store with a versioned compare-and-swap on the
// leaf row at path.
func (g *GormStore) Transaction(ctx context.Context, path string, update UpdateFunc) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxTransactionRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		current, version, err := g.readLeaf(ctx, p)
		if err != nil {
			return err
		}
		next, err := update(current)
		if err != nil {
			return err
		}
		raw, del, err := encodeValue(next)
		if err != nil {
			return err
		}

		err = g.commit(ctx, p, version, raw, del)
		if errors.Is(err, errConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("transaction %s: %w", p, err)
		}
		return nil
	}
	return ErrTooManyRetries
}

// Refresh re-reads every subscribed path and pushes the ones that changed.
func (g *GormStore) Refresh(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.hub.paths() {
		snap, err := g.snapshot(ctx, g.db, p)
		if err != nil {
			return err
		}
		g.hub.publish(snap)
	}
	return nil
}

// Run polls for external changes until ctx is cancelled.
func (g *GormStore) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Realtime poller shutting down.")
			return
		case <-timer.C:
			if err := g.Refresh(ctx); err != nil {
				log.Printf("Error refreshing realtime subscriptions: %v", err)
			}
			timer.Reset(interval)
		}
	}
}

// Close stops event delivery.
func (g *GormStore) Close() error {
	g.hub.close()
	return nil
}

func (g *GormStore) readLeaf(ctx context.Context, p string) (Snapshot, int64, error) {
	var nodes []model.RealtimeNode
	if err := g.db.WithContext(ctx).Where("path = ?", p).Limit(1).Find(&nodes).Error; err != nil {
		return Snapshot{}, 0, fmt.Errorf("read %s: %w", p, err)
	}
	if len(nodes) == 1 {
		return Snapshot{Path: p, Exists: true, Raw: json.RawMessage(nodes[0].Value)}, nodes[0].Version, nil
	}
	snap, err := g.snapshot(ctx, g.db, p)
	return snap, 0, err
}

// commit writes the leaf only if it still has the version that was read.
// Version 0 means the leaf did not exist.
func (g *GormStore) commit(ctx context.Context, p string, version int64, raw json.RawMessage, del bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var touched []string
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		switch {
		case version == 0 && del:
			// Nothing to delete; only descendants may need clearing.
		case version == 0:
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&model.RealtimeNode{Path: p, Value: string(raw), Version: 1, UpdatedAt: g.now()})
		case del:
			res = tx.Where("path = ? AND version = ?", p, version).Delete(&model.RealtimeNode{})
		default:
			res = tx.Model(&model.RealtimeNode{}).
				Where("path = ? AND version = ?", p, version).
				Updates(map[string]any{"value": string(raw), "version": version + 1, "updated_at": g.now()})
		}
		if res != nil {
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConflict
			}
		}

		var err error
		touched, err = g.replaceSubtree(tx, p)
		return err
	})
	if err != nil {
		return err
	}
	return g.notify(ctx, touched)
}

// replaceSubtree removes descendants and ancestor leaves of p, returning
// the paths whose values change.
func (g *GormStore) replaceSubtree(tx *gorm.DB, p string) ([]string, error) {
	touched := []string{p}
	if err := tx.Where("path LIKE ? ESCAPE '\\'", escapeLike(p)+"/%").Delete(&model.RealtimeNode{}).Error; err != nil {
		return nil, err
	}

	anc := ancestors(p)
	if len(anc) == 0 {
		return touched, nil
	}
	var existing []model.RealtimeNode
	if err := tx.Select("path").Where("path IN ?", anc).Find(&existing).Error; err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return touched, nil
	}
	var stale []string
	for _, n := range existing {
		stale = append(stale, n.Path)
	}
	if err := tx.Where("path IN ?", stale).Delete(&model.RealtimeNode{}).Error; err != nil {
		return nil, err
	}
	return append(touched, stale...), nil
}

func (g *GormStore) snapshot(ctx context.Context, db *gorm.DB, p string) (Snapshot, error) {
	var exact []model.RealtimeNode
	if err := db.WithContext(ctx).Where("path = ?", p).Limit(1).Find(&exact).Error; err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", p, err)
	}
	if len(exact) == 1 {
		return assemble(p, json.RawMessage(exact[0].Value), true, nil)
	}

	var nodes []model.RealtimeNode
	if err := db.WithContext(ctx).Where("path LIKE ? ESCAPE '\\'", escapeLike(p)+"/%").Find(&nodes).Error; err != nil {
		return Snapshot{}, fmt.Errorf("read %s: %w", p, err)
	}
	descendants := make(map[string]json.RawMessage, len(nodes))
	for _, n := range nodes {
		descendants[n.Path] = json.RawMessage(n.Value)
	}
	return assemble(p, nil, false, descendants)
}

// notify is called with g.mu held so listeners see commits in order.
func (g *GormStore) notify(ctx context.Context, touched []string) error {
	for _, lp := range g.hub.affected(touched) {
		snap, err := g.snapshot(ctx, g.db, lp)
		if err != nil {
			return err
		}
		g.hub.publish(snap)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
