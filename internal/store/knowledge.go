package store

import "fmt"

// Knowledge graph node types, per §3.
const (
	KGNodeApp        = "app"
	KGNodeTimeBucket = "time_bucket"
	KGNodeKeyword    = "keyword"
)

// Knowledge graph relationship types, per §3.
const (
	KGRelOccursAt = "occurs_at" // app/keyword -> time_bucket
	KGRelContains = "contains"  // time_bucket -> keyword
)

// KGNode mirrors knowledge_nodes.
type KGNode struct {
	ID    int64
	Type  string
	Label string
}

// KGEdge mirrors knowledge_edges.
type KGEdge struct {
	ID           int64
	SourceID     int64
	TargetID     int64
	Relationship string
	Weight       float64
}

// UpsertKGNode inserts a node by (type, label), returning its id.
func (db *DB) UpsertKGNode(nodeType, label string) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(
		`INSERT INTO knowledge_nodes (type, label) VALUES (?, ?) ON CONFLICT(type, label) DO NOTHING`,
		nodeType, label,
	); err != nil {
		return 0, fmt.Errorf("upsert knowledge node: %w", err)
	}
	var id int64
	err := db.conn.QueryRow(`SELECT id FROM knowledge_nodes WHERE type = ? AND label = ?`, nodeType, label).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("read knowledge node id: %w", err)
	}
	return id, nil
}

// UpsertKGEdge inserts an edge by (source, target, relationship), or
// increments its weight by delta if it already exists -- edges accumulate
// co-occurrence counts rather than being overwritten.
func (db *DB) UpsertKGEdge(sourceID, targetID int64, relationship string, delta float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(
		`INSERT INTO knowledge_edges (source_id, target_id, relationship, weight) VALUES (?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relationship) DO UPDATE SET weight = weight + excluded.weight`,
		sourceID, targetID, relationship, delta,
	)
	if err != nil {
		return fmt.Errorf("upsert knowledge edge: %w", err)
	}
	return nil
}

// KGNeighbors returns nodes adjacent to nodeID via outgoing edges, optionally
// filtered by relationship.
func (db *DB) KGNeighbors(nodeID int64, relationship string) ([]KGNode, error) {
	query := `SELECT n.id, n.type, n.label FROM knowledge_nodes n
	          JOIN knowledge_edges e ON e.target_id = n.id WHERE e.source_id = ?`
	args := []any{nodeID}
	if relationship != "" {
		query += ` AND e.relationship = ?`
		args = append(args, relationship)
	}
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KGNode
	for rows.Next() {
		var n KGNode
		if err := rows.Scan(&n.ID, &n.Type, &n.Label); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// KGSnapshot returns every node and edge, for graph rebuilds/caching.
func (db *DB) KGSnapshot() ([]KGNode, []KGEdge, error) {
	nodeRows, err := db.conn.Query(`SELECT id, type, label FROM knowledge_nodes`)
	if err != nil {
		return nil, nil, err
	}
	defer nodeRows.Close()
	var nodes []KGNode
	for nodeRows.Next() {
		var n KGNode
		if err := nodeRows.Scan(&n.ID, &n.Type, &n.Label); err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, err
	}

	edgeRows, err := db.conn.Query(`SELECT id, source_id, target_id, relationship, weight FROM knowledge_edges`)
	if err != nil {
		return nil, nil, err
	}
	defer edgeRows.Close()
	var edges []KGEdge
	for edgeRows.Next() {
		var e KGEdge
		if err := edgeRows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relationship, &e.Weight); err != nil {
			return nil, nil, err
		}
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}

// CountActivities returns the total row count of activity_logs, used to
// invalidate the knowledge graph's TTL cache when new activity arrives.
func (db *DB) CountActivities() (int64, error) {
	var n int64
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM activity_logs`).Scan(&n)
	return n, err
}
