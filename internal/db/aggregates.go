package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"station-alerts/internal/models"
)

// aggregatesQuery averages readings per (station, variable) inside the
// closed interval [$1, $2] and joins in the variable bounds and the station's
// owner and location. Bounds and location names stay NULL when unset.
const aggregatesQuery = `
	SELECT
		d.station_id,
		d.measurement_id,
		m.name,
		AVG(d.avg_value)::float8 AS statistic,
		COUNT(*) AS readings,
		m.min_value::float8,
		m.max_value::float8,
		u.username,
		co.name,
		st.name,
		ci.name
	FROM receiver_data d
	JOIN receiver_measurement m ON m.id = d.measurement_id
	JOIN receiver_station s ON s.id = d.station_id
	LEFT JOIN auth_user u ON u.id = s.user_id
	LEFT JOIN receiver_location l ON l.id = s.location_id
	LEFT JOIN receiver_country co ON co.id = l.country_id
	LEFT JOIN receiver_state st ON st.id = l.state_id
	LEFT JOIN receiver_city ci ON ci.id = l.city_id
	WHERE d.base_time >= $1 AND d.base_time <= $2
	GROUP BY
		d.station_id, d.measurement_id, m.name, m.min_value, m.max_value,
		u.username, co.name, st.name, ci.name
	ORDER BY d.station_id, d.measurement_id`

// QueryAggregates returns one record per (station, variable) with readings in
// [windowStart, windowEnd].
func (d *DB) QueryAggregates(ctx context.Context, windowStart, windowEnd time.Time) ([]models.AggregateRecord, error) {
	rows, err := d.q.Query(ctx, aggregatesQuery, windowStart, windowEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var list []models.AggregateRecord
	for rows.Next() {
		var rec models.AggregateRecord
		var minValue, maxValue pgtype.Float8
		var user, country, state, city pgtype.Text

		err := rows.Scan(
			&rec.StationID,
			&rec.VariableID,
			&rec.Variable,
			&rec.Statistic,
			&rec.Readings,
			&minValue,
			&maxValue,
			&user,
			&country,
			&state,
			&city,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}

		rec.Min = bound(minValue)
		rec.Max = bound(maxValue)
		rec.User = user.String
		rec.Country = country.String
		rec.State = state.String
		rec.City = city.String
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read aggregates: %w", err)
	}

	return list, nil
}

func bound(f pgtype.Float8) models.Bound {
	if !f.Valid {
		return models.Absent
	}
	return models.Present(f.Float64)
}
