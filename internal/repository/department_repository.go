package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/citizen-report/internal/model"
)

// DepartmentRepo reads the seeded 'departments' table.
type DepartmentRepo struct{ DB *sql.DB }

func NewDepartmentRepo(db *sql.DB) *DepartmentRepo { return &DepartmentRepo{DB: db} }

// GetByCode returns the department whose code equals the given category.
func (r *DepartmentRepo) GetByCode(ctx context.Context, code string) (*model.Department, error) {
	var d model.Department
	err := r.DB.QueryRowContext(ctx,
		"SELECT id,name,code FROM departments WHERE code=? LIMIT 1", code).Scan(&d.ID, &d.Name, &d.Code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// List returns all departments ordered by name.
func (r *DepartmentRepo) List(ctx context.Context) ([]model.Department, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT id,name,code FROM departments ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Department, 0, len(model.Categories))
	for rows.Next() {
		var d model.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
