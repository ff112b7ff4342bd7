package pg

import (
	"context"
	"database/sql"
	"time"

	"schedulers.app/internal/entity"
)

const defaultListLimit = 100

// ListGames returns games newest date first.
func (s *Store) ListGames(ctx context.Context, limit int) ([]entity.Game, error) {
	if limit <= 0 || limit > 1000 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, to_char(date, 'YYYY-MM-DD'), to_char(time, 'HH24:MI'), home_team, away_team, location, sport, league, level,
			officials_needed, notes, status, game_fee, created_at, created_by, updated_at, updated_by
		from games
		order by date desc, time desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Game
	for rows.Next() {
		var (
			g                              entity.Game
			location, league, level, notes sql.NullString
			createdBy, updatedBy           sql.NullInt64
			updatedAt                      sql.NullTime
		)
		if err := rows.Scan(&g.ID, &g.Date, &g.Time, &g.HomeTeam, &g.AwayTeam, &location, &g.Sport, &league, &level,
			&g.OfficialsNeeded, &notes, &g.Status, &g.GameFee, &g.CreatedAt, &createdBy, &updatedAt, &updatedBy); err != nil {
			return nil, err
		}
		g.Location, g.League, g.Level, g.Notes = location.String, league.String, level.String, notes.String
		g.CreatedBy = int64Ptr(createdBy)
		g.UpdatedBy = int64Ptr(updatedBy)
		g.UpdatedAt = timePtr(updatedAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListOfficials joins official profiles with their principals.
func (s *Store) ListOfficials(ctx context.Context) ([]entity.Official, error) {
	rows, err := s.db.QueryContext(ctx, `
		select o.id, o.principal_id, coalesce(p.display_name, ''), coalesce(p.email, ''), coalesce(p.phone, ''),
			o.sport, o.experience_level, o.certifications, o.rating, o.availability, o.notes, o.is_active,
			o.total_games, o.updated_at
		from officials o
		left join principals p on p.id = o.principal_id
		order by p.display_name nulls last, o.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Official
	for rows.Next() {
		var (
			o                                        entity.Official
			principalID                              sql.NullInt64
			sport, level, certs, availability, notes sql.NullString
			updatedAt                                sql.NullTime
		)
		if err := rows.Scan(&o.ID, &principalID, &o.DisplayName, &o.Email, &o.Phone,
			&sport, &level, &certs, &o.Rating, &availability, &notes, &o.Active,
			&o.TotalGames, &updatedAt); err != nil {
			return nil, err
		}
		o.PrincipalID = int64Ptr(principalID)
		o.Sport, o.ExperienceLevel, o.Certifications = sport.String, level.String, certs.String
		o.Availability, o.Notes = availability.String, notes.String
		o.UpdatedAt = timePtr(updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

// DashboardStats counts the headline numbers in one round trip.
func (s *Store) DashboardStats(ctx context.Context, today time.Time) (entity.DashboardStats, error) {
	var st entity.DashboardStats
	err := s.db.QueryRowContext(ctx, `
		select
			(select count(*) from games),
			(select count(*) from games where date >= $1 and status = 'scheduled'),
			(select count(*) from officials where is_active),
			(select count(*) from assignments),
			(select count(*) from principals where is_active)
	`, today.Format("2006-01-02")).Scan(&st.TotalGames, &st.UpcomingGames, &st.ActiveOfficials, &st.TotalAssignments, &st.TotalUsers)
	return st, err
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
