package identity

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/medibook/medibook/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// =========== User Repository ===========

type userRepoPG struct{ pool db.Queryable }

func NewUserRepoPG(pool db.Queryable) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const userCols = `id, email, full_name, role, phone, created_at, updated_at`

func (r *userRepoPG) scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, email, full_name, role, phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		u.ID, u.Email, u.FullName, u.Role, u.Phone).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := r.scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *userRepoPG) List(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	where := ``
	args := []interface{}{}
	if role != "" {
		where = ` WHERE role = $1`
		args = append(args, role)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *userRepoPG) CountByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var role string
		var n int
		if err := rows.Scan(&role, &n); err != nil {
			return nil, fmt.Errorf("scan role count: %w", err)
		}
		counts[role] = n
	}
	return counts, rows.Err()
}

func (r *userRepoPG) Contacts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Contact, error) {
	out := make(map[uuid.UUID]*Contact, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, full_name, email, phone FROM users WHERE id = ANY($1::uuid[])`, idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("lookup contacts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.FullName, &c.Email, &c.Phone); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out[c.ID] = &c
	}
	return out, rows.Err()
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool db.Queryable }

func NewDoctorRepoPG(pool db.Queryable) DoctorRepository { return &doctorRepoPG{pool: pool} }

func (r *doctorRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

var doctorCols = []interface{}{
	"d.id", "u.full_name", "u.email", "d.specialization", "d.license_number",
	"d.experience_years", "d.consultation_fee", "d.rating", "d.is_active", "d.created_at",
}

func (r *doctorRepoPG) scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FullName, &d.Email, &d.Specialization, &d.LicenseNumber,
		&d.ExperienceYears, &d.ConsultationFee, &d.Rating, &d.IsActive, &d.CreatedAt)
	return &d, err
}

func (r *doctorRepoPG) directory() *goqu.SelectDataset {
	return dialect.From(goqu.T("doctors").As("d")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("d.id"))))
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, specialization, license_number, experience_years, consultation_fee, rating, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.Specialization, d.LicenseNumber, d.ExperienceYears, d.ConsultationFee, d.Rating, d.IsActive).
		Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert doctor: %w", err)
	}
	return nil
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query, args, err := r.directory().Select(doctorCols...).
		Where(goqu.Ex{"d.id": id.String()}).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build doctor query: %w", err)
	}
	d, err := r.scanDoctor(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return d, nil
}

// List returns active doctors, best rated first.
func (r *doctorRepoPG) List(ctx context.Context, f DoctorFilter) ([]*Doctor, int, error) {
	ds := r.directory().Where(goqu.Ex{"d.is_active": true})
	if f.Specialization != "" {
		ds = ds.Where(goqu.Ex{"d.specialization": f.Specialization})
	}

	countQuery, countArgs, err := ds.Select(goqu.COUNT("*")).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build doctor count: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count doctors: %w", err)
	}

	ds = ds.Select(doctorCols...).Order(goqu.I("d.rating").Desc(), goqu.I("u.full_name").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build doctor list: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	var items []*Doctor
	for rows.Next() {
		d, err := r.scanDoctor(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan doctor: %w", err)
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *doctorRepoPG) Specializations(ctx context.Context) ([]string, error) {
	query, args, err := dialect.From("doctors").
		Select("specialization").Distinct().
		Where(goqu.Ex{"is_active": true}).
		Order(goqu.I("specialization").Asc()).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build specialization query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list specializations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan specialization: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *doctorRepoPG) Names(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, u.full_name FROM doctors d
		JOIN users u ON u.id = d.id
		WHERE d.id = ANY($1::uuid[])`, idStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("lookup doctor names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FullName); err != nil {
			return nil, fmt.Errorf("scan doctor name: %w", err)
		}
		out[d.ID] = d.DisplayName()
	}
	return out, rows.Err()
}

// =========== Credential Repository ===========

type credentialRepoPG struct{ pool db.Queryable }

func NewCredentialRepoPG(pool db.Queryable) CredentialRepository { return &credentialRepoPG{pool: pool} }

func (r *credentialRepoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *credentialRepoPG) Create(ctx context.Context, c *Credential) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO auth_identities (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		c.ID, c.Email, c.PasswordHash).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

func (r *credentialRepoPG) GetByEmail(ctx context.Context, email string) (*Credential, error) {
	var c Credential
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, email, password_hash, created_at FROM auth_identities
		WHERE lower(email) = lower($1)`, email).
		Scan(&c.ID, &c.Email, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &c, nil
}

func (r *credentialRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM auth_identities WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}
