package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"veriline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- methodologies ---

func (r Repo) UpsertMethodology(ctx context.Context, tx *sql.Tx, m domain.Methodology) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO methodologies(id,slug,title,description,process,created_at,updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(slug) DO UPDATE SET title=excluded.title, description=excluded.description,
			process=excluded.process, updated_at=excluded.updated_at`,
		m.ID, m.Slug, m.Title, nullable(m.Description), m.Process, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMethodology(ctx context.Context, slug string) (domain.Methodology, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,slug,title,COALESCE(description,''),process,created_at,updated_at FROM methodologies WHERE slug=?`, slug)
	var m domain.Methodology
	err := row.Scan(&m.ID, &m.Slug, &m.Title, &m.Description, &m.Process, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMethodologies(ctx context.Context) ([]domain.Methodology, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,slug,title,COALESCE(description,''),process,created_at,updated_at FROM methodologies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Methodology
	for rows.Next() {
		var m domain.Methodology
		if err := rows.Scan(&m.ID, &m.Slug, &m.Title, &m.Description, &m.Process, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- investigations ---

func (r Repo) UpsertInvestigation(ctx context.Context, inv domain.Investigation) error {
	if inv.CreatedAt == "" {
		inv.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO investigations(slug,title,methodology,created_at) VALUES (?,?,?,?)
		ON CONFLICT(slug) DO UPDATE SET title=excluded.title, methodology=excluded.methodology`,
		inv.Slug, inv.Title, inv.Methodology, inv.CreatedAt)
	return err
}

func (r Repo) GetInvestigation(ctx context.Context, slug string) (domain.Investigation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT slug,title,methodology,created_at FROM investigations WHERE slug=?`, slug)
	var inv domain.Investigation
	err := row.Scan(&inv.Slug, &inv.Title, &inv.Methodology, &inv.CreatedAt)
	if err == sql.ErrNoRows {
		return inv, ErrNotFound
	}
	return inv, err
}

// --- units ---

// UnitIngest is the insertable form of a preserved record.
type UnitIngest struct {
	Source      string
	UnitID      string
	IDHash      string
	Body        string
	Href        string
	Author      string
	Title       string
	Description string
	Photos      int
	Videos      int
	State       string
	CreatedAt   string
	FetchedAt   string
}

func (r Repo) InsertUnit(ctx context.Context, tx *sql.Tx, investigation, segment string, u UnitIngest) (int, error) {
	if u.CreatedAt == "" {
		u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO units(investigation,segment,source,unit_id,id_hash,body,href,author,title,description,photos,videos,state,created_at,fetched_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		investigation, segment, u.Source, u.UnitID, u.IDHash, nullable(u.Body), nullable(u.Href), nullable(u.Author),
		nullable(u.Title), nullable(u.Description), u.Photos, u.Videos, u.State, u.CreatedAt, u.FetchedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	// Verification correlates the unit to its annotation records; one
	// verification per unit in the reference store.
	if _, err := tx.ExecContext(ctx, `UPDATE units SET verification=? WHERE id=?`, id, id); err != nil {
		return 0, err
	}
	return int(id), nil
}

func (r Repo) ListSegmentUnits(ctx context.Context, investigation, segment string) ([]domain.VerificationUnit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,source,COALESCE(title,''),photos,videos,state,verification FROM units
		WHERE investigation=? AND segment=? ORDER BY id`, investigation, segment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VerificationUnit
	for rows.Next() {
		var u domain.VerificationUnit
		if err := rows.Scan(&u.ID, &u.Source, &u.Title, &u.Photos, &u.Videos, &u.State, &u.Verification); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) GetUnit(ctx context.Context, investigation, segment string, id int) (domain.VerificationUnit, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,source,COALESCE(title,''),photos,videos,state,verification FROM units
		WHERE investigation=? AND segment=? AND id=?`, investigation, segment, id)
	var u domain.VerificationUnit
	err := row.Scan(&u.ID, &u.Source, &u.Title, &u.Photos, &u.Videos, &u.State, &u.Verification)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) UpdateUnitState(ctx context.Context, tx *sql.Tx, investigation, segment string, id int, state string) error {
	res, err := tx.ExecContext(ctx, `UPDATE units SET state=? WHERE investigation=? AND segment=? AND id=?`,
		state, investigation, segment, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UnitsByIDs(ctx context.Context, ids []int) ([]domain.FullUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id,id_hash,source,unit_id,COALESCE(body,''),COALESCE(href,''),
		COALESCE(author,''),COALESCE(title,''),COALESCE(description,''),created_at,fetched_at
		FROM units WHERE id IN (%s) ORDER BY id`, placeholders), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FullUnit
	for rows.Next() {
		var u domain.FullUnit
		if err := rows.Scan(&u.ID, &u.IDHash, &u.Source, &u.UnitID, &u.Body, &u.Href, &u.Author, &u.Title, &u.Description, &u.CreatedAt, &u.FetchedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// --- annotations ---

func (r Repo) ListAnnotations(ctx context.Context, investigation string, verification int) ([]domain.Annotation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT key,name,COALESCE(value_json,''),COALESCE(note,'') FROM annotations
		WHERE investigation=? AND verification=? ORDER BY key`, investigation, verification)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Annotation
	for rows.Next() {
		var a domain.Annotation
		var valueJSON string
		if err := rows.Scan(&a.Key, &a.Name, &valueJSON, &a.Note); err != nil {
			return nil, err
		}
		if valueJSON != "" {
			if err := json.Unmarshal([]byte(valueJSON), &a.Value); err != nil {
				return nil, fmt.Errorf("annotation %s: %w", a.Key, err)
			}
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpsertAnnotation(ctx context.Context, tx *sql.Tx, investigation string, verification int, a domain.Annotation) error {
	valueJSON, err := json.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("marshal annotation value: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO annotations(investigation,verification,key,name,value_json,note,updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(investigation,verification,key) DO UPDATE SET name=excluded.name,
			value_json=excluded.value_json, note=excluded.note, updated_at=excluded.updated_at`,
		investigation, verification, a.Key, a.Name, string(valueJSON), nullable(a.Note), now)
	return err
}

// --- events ---

func (r Repo) EventsAfter(ctx context.Context, limit int, after int64, investigation string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(investigation,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		FROM events WHERE id>? AND (?='' OR investigation=?) ORDER BY id LIMIT ?`,
		after, investigation, investigation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Investigation, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, investigation, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,COALESCE(investigation,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		FROM events WHERE (?='' OR investigation=?) AND (?='' OR type=?) ORDER BY id DESC LIMIT ?`,
		investigation, investigation, evtType, evtType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.Investigation, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) LatestEventID(ctx context.Context, investigation string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE (?='' OR investigation=?)`,
		investigation, investigation)
	var id int64
	err := row.Scan(&id)
	return id, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
