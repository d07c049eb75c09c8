package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"fleet-dashboard/internal/models"
)

const stationColumns = "agent_id, agent_name, role, current_task, status, updated_at"

// UpsertStation merges p into the agent's row, creating it on first sight. updated_at is always bumped.
func (s *Store) UpsertStation(ctx context.Context, p models.StationPatch) (models.OfficeStation, error) {
	if err := p.Validate(); err != nil {
		return models.OfficeStation{}, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO office_stations (agent_id, agent_name, role, current_task, status, updated_at)
		VALUES ($1, COALESCE($2, $1), COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, 'idle'), NOW())
		ON CONFLICT (agent_id) DO UPDATE
		SET agent_name   = COALESCE($2, office_stations.agent_name),
		    role         = COALESCE($3, office_stations.role),
		    current_task = COALESCE($4, office_stations.current_task),
		    status       = COALESCE($5, office_stations.status),
		    updated_at   = NOW()
		RETURNING `+stationColumns,
		p.AgentID, p.AgentName, p.Role, p.CurrentTask, statusArg(p.Status))
	st, err := scanStation(row)
	if err != nil {
		return models.OfficeStation{}, fmt.Errorf("upsert station %s: %w", p.AgentID, mapPgErr(err))
	}
	return st, nil
}

// UpdateStationIf merges p into the agent's row only while it still has status expected.
// ok is false when the row changed status or does not exist; nothing is written then.
func (s *Store) UpdateStationIf(ctx context.Context, expected models.StationStatus, p models.StationPatch) (models.OfficeStation, bool, error) {
	if err := p.Validate(); err != nil {
		return models.OfficeStation{}, false, err
	}
	row := s.db.QueryRow(ctx, `
		UPDATE office_stations
		SET agent_name   = COALESCE($2, agent_name),
		    role         = COALESCE($3, role),
		    current_task = COALESCE($4, current_task),
		    status       = COALESCE($5, status),
		    updated_at   = NOW()
		WHERE agent_id = $1 AND status = $6
		RETURNING `+stationColumns,
		p.AgentID, p.AgentName, p.Role, p.CurrentTask, statusArg(p.Status), string(expected))
	st, err := scanStation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OfficeStation{}, false, nil
	}
	if err != nil {
		return models.OfficeStation{}, false, fmt.Errorf("update station %s: %w", p.AgentID, mapPgErr(err))
	}
	return st, true, nil
}

// CreateStation inserts a row for an agent seen for the first time. ok is false when
// another writer created the row first; the existing row is left as it is.
func (s *Store) CreateStation(ctx context.Context, p models.StationPatch) (models.OfficeStation, bool, error) {
	if err := p.Validate(); err != nil {
		return models.OfficeStation{}, false, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO office_stations (agent_id, agent_name, role, current_task, status, updated_at)
		VALUES ($1, COALESCE($2, $1), COALESCE($3, ''), COALESCE($4, ''), COALESCE($5, 'idle'), NOW())
		ON CONFLICT (agent_id) DO NOTHING
		RETURNING `+stationColumns,
		p.AgentID, p.AgentName, p.Role, p.CurrentTask, statusArg(p.Status))
	st, err := scanStation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OfficeStation{}, false, nil
	}
	if err != nil {
		return models.OfficeStation{}, false, fmt.Errorf("create station %s: %w", p.AgentID, mapPgErr(err))
	}
	return st, true, nil
}

func statusArg(status *models.StationStatus) *string {
	if status == nil {
		return nil
	}
	v := string(*status)
	return &v
}

// GetStation fetches one agent's row.
func (s *Store) GetStation(ctx context.Context, agentID string) (models.OfficeStation, error) {
	st, err := scanStation(s.db.QueryRow(ctx, `SELECT `+stationColumns+` FROM office_stations WHERE agent_id = $1`, agentID))
	if err != nil {
		return models.OfficeStation{}, fmt.Errorf("station %s: %w", agentID, mapPgErr(err))
	}
	return st, nil
}

// ListStations returns every known station ordered by agent id.
func (s *Store) ListStations(ctx context.Context) ([]models.OfficeStation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+stationColumns+` FROM office_stations ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()
	var out []models.OfficeStation
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stations: %w", err)
	}
	return out, nil
}

func scanStation(row pgx.Row) (models.OfficeStation, error) {
	var st models.OfficeStation
	err := row.Scan(&st.AgentID, &st.AgentName, &st.Role, &st.CurrentTask, &st.Status, &st.UpdatedAt)
	return st, err
}
