package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
)

// EntityInfo aggregates every live record sharing an entity name. Scope
// and project come from the first record seen for the entity.
type EntityInfo struct {
	Name        string  `json:"name"`
	Scope       string  `json:"scope"`
	Project     *string `json:"project,omitempty"`
	MemoryCount int     `json:"memory_count"`
	FirstSeen   string  `json:"first_seen"`
	LastUpdated string  `json:"last_updated"`
}

// EntityMatch is a fuzzy entity search hit.
type EntityMatch struct {
	Entity  string  `json:"entity"`
	Scope   string  `json:"scope"`
	Project *string `json:"project,omitempty"`
	Score   float64 `json:"score"`
}

// ListEntities scans the caller's live records and folds them into one
// entry per entity, in the order entities were first encountered.
func (r *Repository) ListEntities(ctx context.Context, user string, opts FilterOptions) ([]EntityInfo, error) {
	records, err := r.scanRecords(ctx, user, opts)
	if err != nil {
		return nil, err
	}

	byName := map[string]*EntityInfo{}
	var order []string
	for _, rec := range records {
		info, ok := byName[rec.Entity]
		if !ok {
			info = &EntityInfo{
				Name:        rec.Entity,
				Scope:       string(rec.Scope),
				Project:     rec.Project,
				FirstSeen:   rec.CreatedAt,
				LastUpdated: rec.UpdatedAt,
			}
			byName[rec.Entity] = info
			order = append(order, rec.Entity)
		}
		info.MemoryCount++
		if laterTimestamp(rec.UpdatedAt, info.LastUpdated) {
			info.LastUpdated = rec.UpdatedAt
		}
		if rec.CreatedAt < info.FirstSeen {
			info.FirstSeen = rec.CreatedAt
		}
	}

	out := make([]EntityInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

// SearchEntities fuzzy-matches entity names against the query. Scores are
// rounded to three decimals; zero-score entities are dropped. Ties keep
// first-seen order.
func (r *Repository) SearchEntities(ctx context.Context, user, query string, opts FilterOptions, limit int) ([]EntityMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	entities, err := r.ListEntities(ctx, user, opts)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []EntityMatch
	for _, e := range entities {
		score := Ratio(needle, strings.ToLower(e.Name))
		if score <= 0 {
			continue
		}
		matches = append(matches, EntityMatch{
			Entity:  e.Name,
			Scope:   e.Scope,
			Project: e.Project,
			Score:   math.Round(score*1000) / 1000,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// scanRecords pages through every live record matching the filter. Pages
// of 256 keep single requests bounded on large tenants.
func (r *Repository) scanRecords(ctx context.Context, user string, opts FilterOptions) ([]*Record, error) {
	filter := BuildFilter(user, opts)
	var records []*Record
	cursor := ""
	for {
		points, next, err := r.index.Scroll(ctx, filter, 256, cursor)
		if err != nil {
			return nil, fmt.Errorf("scroll records: %w", err)
		}
		for _, p := range points {
			rec, err := RecordFromPayload(p.Payload)
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
		if next == "" || len(points) == 0 {
			break
		}
		cursor = next
	}
	return records, nil
}
