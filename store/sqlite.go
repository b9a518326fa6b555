// ABOUTME: SQLite-backed NodeStore so a canvas survives process restarts.
// ABOUTME: Nodes are stored one row each with JSON columns for parent order and frame roles.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/loom/graph"
)

// SqliteStore is a NodeStore persisted to a SQLite database file.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates the canvas database at the given path and
// ensures the schema exists.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS nodes (
			node_id TEXT PRIMARY KEY,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			model_id TEXT NOT NULL DEFAULT '',
			aspect_ratio TEXT NOT NULL DEFAULT '',
			resolution TEXT NOT NULL DEFAULT '',
			video_duration INTEGER NOT NULL DEFAULT 0,
			video_mode TEXT NOT NULL DEFAULT '',
			variation_count INTEGER NOT NULL DEFAULT 0,
			result_url TEXT NOT NULL DEFAULT '',
			result_urls TEXT NOT NULL DEFAULT '[]',
			result_aspect_ratio TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			parent_ids TEXT NOT NULL DEFAULT '[]',
			frame_inputs TEXT NOT NULL DEFAULT '{}',
			updated_at TEXT NOT NULL
		);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

// SaveNode upserts one node row.
func (s *SqliteStore) SaveNode(n *graph.Node) error {
	resultURLs, err := json.Marshal(urlsOrEmpty(n.ResultURLs))
	if err != nil {
		return fmt.Errorf("encode result urls: %w", err)
	}
	parentIDs, err := json.Marshal(urlsOrEmpty(n.ParentIDs))
	if err != nil {
		return fmt.Errorf("encode parent ids: %w", err)
	}
	frameInputs := []byte("{}")
	if len(n.FrameInputs) > 0 {
		frameInputs, err = json.Marshal(n.FrameInputs)
		if err != nil {
			return fmt.Errorf("encode frame inputs: %w", err)
		}
	}

	_, err = s.db.Exec(
		`INSERT INTO nodes (node_id, node_type, status, prompt, model_id,
			aspect_ratio, resolution, video_duration, video_mode, variation_count,
			result_url, result_urls, result_aspect_ratio, error_message,
			parent_ids, frame_inputs, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
			node_type = excluded.node_type,
			status = excluded.status,
			prompt = excluded.prompt,
			model_id = excluded.model_id,
			aspect_ratio = excluded.aspect_ratio,
			resolution = excluded.resolution,
			video_duration = excluded.video_duration,
			video_mode = excluded.video_mode,
			variation_count = excluded.variation_count,
			result_url = excluded.result_url,
			result_urls = excluded.result_urls,
			result_aspect_ratio = excluded.result_aspect_ratio,
			error_message = excluded.error_message,
			parent_ids = excluded.parent_ids,
			frame_inputs = excluded.frame_inputs,
			updated_at = excluded.updated_at`,
		n.ID, string(n.Type), string(n.Status), n.Prompt, n.ModelID,
		n.AspectRatio, n.Resolution, n.VideoDuration, n.VideoMode, n.VariationCount,
		n.ResultURL, string(resultURLs), n.ResultAspectRatio, n.ErrorMessage,
		string(parentIDs), string(frameInputs),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert node: %w", err)
	}
	return nil
}

// DeleteNode removes a node row. Missing rows are a no-op.
func (s *SqliteStore) DeleteNode(id string) error {
	if _, err := s.db.Exec(`DELETE FROM nodes WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// LoadNodes reads every node row.
func (s *SqliteStore) LoadNodes() ([]*graph.Node, error) {
	rows, err := s.db.Query(
		`SELECT node_id, node_type, status, prompt, model_id,
			aspect_ratio, resolution, video_duration, video_mode, variation_count,
			result_url, result_urls, result_aspect_ratio, error_message,
			parent_ids, frame_inputs
		 FROM nodes`)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []*graph.Node
	for rows.Next() {
		var n graph.Node
		var nodeType, status, resultURLs, parentIDs, frameInputs string
		if err := rows.Scan(&n.ID, &nodeType, &status, &n.Prompt, &n.ModelID,
			&n.AspectRatio, &n.Resolution, &n.VideoDuration, &n.VideoMode, &n.VariationCount,
			&n.ResultURL, &resultURLs, &n.ResultAspectRatio, &n.ErrorMessage,
			&parentIDs, &frameInputs); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.Type = graph.NodeType(nodeType)
		n.Status = graph.NodeStatus(status)
		if err := json.Unmarshal([]byte(resultURLs), &n.ResultURLs); err != nil {
			return nil, fmt.Errorf("decode result urls for %s: %w", n.ID, err)
		}
		if err := json.Unmarshal([]byte(parentIDs), &n.ParentIDs); err != nil {
			return nil, fmt.Errorf("decode parent ids for %s: %w", n.ID, err)
		}
		if err := json.Unmarshal([]byte(frameInputs), &n.FrameInputs); err != nil {
			return nil, fmt.Errorf("decode frame inputs for %s: %w", n.ID, err)
		}
		if len(n.ResultURLs) == 0 {
			n.ResultURLs = nil
		}
		if len(n.ParentIDs) == 0 {
			n.ParentIDs = nil
		}
		if len(n.FrameInputs) == 0 {
			n.FrameInputs = nil
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return out, nil
}

// urlsOrEmpty keeps JSON columns as arrays rather than null.
func urlsOrEmpty(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
