package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// MonitorTool is one registered monitoring system.
type MonitorTool struct {
	ID      int64
	Name    string
	Created time.Time
}

// MonitorToolIP maps a source ip to its monitor tool. ToolName is empty
// until an operator assigns the ip to a tool.
type MonitorToolIP struct {
	IP       string
	ToolName string
	Created  time.Time
}

// GetOrCreateToolIP looks up the tool registered for a source ip,
// auto-registering unknown ips so operators can assign them later.
func (s *Store) GetOrCreateToolIP(ctx context.Context, db DB, ip string) (*MonitorToolIP, error) {
	var t MonitorToolIP
	var name *string
	err := db.QueryRow(ctx, `
		SELECT i.ip, t.name, i.created
		FROM monitor_tool_ips i
		LEFT JOIN monitor_tools t ON t.id = i.tool_id
		WHERE i.ip = $1`, ip).Scan(&t.IP, &name, &t.Created)
	if err == nil {
		if name != nil {
			t.ToolName = *name
		}
		return &t, nil
	}
	if err != pgx.ErrNoRows {
		return nil, err
	}

	err = db.QueryRow(ctx, `
		INSERT INTO monitor_tool_ips (ip) VALUES ($1)
		ON CONFLICT (ip) DO UPDATE SET ip = EXCLUDED.ip
		RETURNING ip, created`, ip).Scan(&t.IP, &t.Created)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListMonitorTools returns all registered tools.
func (s *Store) ListMonitorTools(ctx context.Context, db DB) ([]MonitorTool, error) {
	rows, err := db.Query(ctx, `SELECT id, name, created FROM monitor_tools ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tools []MonitorTool
	for rows.Next() {
		var t MonitorTool
		if err := rows.Scan(&t.ID, &t.Name, &t.Created); err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}
