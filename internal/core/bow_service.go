package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BowService manages finished-product types and their recipes.
// ProductionCost and UnitMargin are derived from the recipe on every read.
type BowService interface {
	CreateBow(ctx context.Context, in BowInput) (*Bow, error)
	UpdateBow(ctx context.Context, code string, u BowUpdate) (*Bow, error)
	DeactivateBow(ctx context.Context, code string) error
	// DeleteBow removes the bow and its recipe. Fails with IN_USE when lists or sales reference it.
	DeleteBow(ctx context.Context, code string) error
	GetBow(ctx context.Context, code string) (*Bow, error)
	ListBows(ctx context.Context, includeInactive bool) ([]Bow, error)

	// SetRecipeRow inserts or replaces the quantity of one material in a bow's recipe.
	SetRecipeRow(ctx context.Context, bowCode, materialCode string, quantityPerBow int64) (*Bow, error)
	RemoveRecipeRow(ctx context.Context, bowCode, materialCode string) (*Bow, error)
}

type bowService struct {
	db *DB
}

func NewBowService(db *DB) BowService {
	return &bowService{db: db}
}

const bowColumns = "id, code, name, sale_mode, sale_price, is_active, created_at, updated_at"

func scanBow(row pgx.Row) (Bow, error) {
	var b Bow
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.SaleMode, &b.SalePrice, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func getBow(ctx context.Context, q querier, code string, forUpdate bool) (*Bow, error) {
	sql := "SELECT " + bowColumns + " FROM bows WHERE code = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	b, err := scanBow(q.QueryRow(ctx, sql, normalizeCode(code)))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("bow %s not found", normalizeCode(code))
		}
		return nil, fmt.Errorf("failed to fetch bow %s: %w", code, err)
	}
	recipes, err := loadRecipes(ctx, q, []int{b.ID})
	if err != nil {
		return nil, err
	}
	b.Recipe = recipes[b.ID]
	return &b, nil
}

// loadRecipes returns the recipe rows of the given bows keyed by bow id, with the
// material's current unit cost.
func loadRecipes(ctx context.Context, q querier, bowIDs []int) (map[int][]RecipeRow, error) {
	out := make(map[int][]RecipeRow, len(bowIDs))
	if len(bowIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		SELECT r.id, r.bow_id, r.material_id, m.code, m.name, m.base_unit, r.quantity_per_bow,
		       m.purchase_price, m.conversion_factor, m.is_active
		FROM recipe_rows r
		JOIN materials m ON m.id = r.material_id
		WHERE r.bow_id = ANY($1)
		ORDER BY r.bow_id, m.code
	`, bowIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipe rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r RecipeRow
			m Material
		)
		if err := rows.Scan(&r.ID, &r.BowID, &r.MaterialID, &r.MaterialCode, &r.MaterialName, &r.BaseUnit,
			&r.QuantityPerBow, &m.PurchasePrice, &m.ConversionFactor, &r.MaterialActive); err != nil {
			return nil, fmt.Errorf("failed to scan recipe row: %w", err)
		}
		r.MaterialUnitCost = m.UnitCost()
		out[r.BowID] = append(out[r.BowID], r)
	}
	return out, rows.Err()
}

func (s *bowService) CreateBow(ctx context.Context, in BowInput) (*Bow, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var b Bow
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM bows WHERE code = $1)", in.Code).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check bow code: %w", err)
		}
		if exists {
			return validation("bow code %s already exists", in.Code)
		}
		var err error
		b, err = scanBow(tx.QueryRow(ctx, `
			INSERT INTO bows (code, name, sale_mode, sale_price)
			VALUES ($1, $2, $3, $4)
			RETURNING `+bowColumns,
			in.Code, in.Name, in.SaleMode, in.SalePrice.Round(2)))
		if err != nil {
			return fmt.Errorf("failed to insert bow: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *bowService) UpdateBow(ctx context.Context, code string, u BowUpdate) (*Bow, error) {
	var out *Bow
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		current, err := getBow(ctx, tx, code, true)
		if err != nil {
			return err
		}
		next, err := u.Apply(*current)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE bows SET name = $1, sale_mode = $2, sale_price = $3, updated_at = NOW()
			WHERE id = $4
		`, next.Name, next.SaleMode, next.SalePrice.Round(2), current.ID); err != nil {
			return fmt.Errorf("failed to update bow: %w", err)
		}
		out, err = getBow(ctx, tx, code, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bowService) DeactivateBow(ctx context.Context, code string) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		b, err := getBow(ctx, tx, code, true)
		if err != nil {
			return err
		}
		var open int
		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*)
			FROM planned_bows pb
			JOIN production_lists l ON l.id = pb.list_id
			WHERE pb.bow_id = $1 AND l.state NOT IN ('finalized', 'archived')
		`, b.ID).Scan(&open); err != nil {
			return fmt.Errorf("failed to check open lists: %w", err)
		}
		if open > 0 {
			return newError(CodeInUse, "bow %s is planned in %d open lists", b.Code, open)
		}
		if _, err := tx.Exec(ctx, "UPDATE bows SET is_active = false, updated_at = NOW() WHERE id = $1", b.ID); err != nil {
			return fmt.Errorf("failed to deactivate bow: %w", err)
		}
		return nil
	})
}

func (s *bowService) DeleteBow(ctx context.Context, code string) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		b, err := getBow(ctx, tx, code, true)
		if err != nil {
			return err
		}
		// Recipe rows cascade; planned rows and sale records restrict and surface as IN_USE.
		if _, err := tx.Exec(ctx, "DELETE FROM bows WHERE id = $1", b.ID); err != nil {
			return fmt.Errorf("failed to delete bow %s: %w", b.Code, err)
		}
		return nil
	})
}

func (s *bowService) GetBow(ctx context.Context, code string) (*Bow, error) {
	return getBow(ctx, s.db.pool, code, false)
}

func (s *bowService) ListBows(ctx context.Context, includeInactive bool) ([]Bow, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+bowColumns+`
		FROM bows
		WHERE is_active OR $1
		ORDER BY code
	`, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to query bows: %w", err)
	}
	defer rows.Close()

	var (
		bows []Bow
		ids  []int
	)
	for rows.Next() {
		b, err := scanBow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bow: %w", err)
		}
		bows = append(bows, b)
		ids = append(ids, b.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read bows: %w", err)
	}
	rows.Close()

	recipes, err := loadRecipes(ctx, s.db.pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range bows {
		bows[i].Recipe = recipes[bows[i].ID]
	}
	return bows, nil
}

func (s *bowService) SetRecipeRow(ctx context.Context, bowCode, materialCode string, quantityPerBow int64) (*Bow, error) {
	if quantityPerBow <= 0 {
		return nil, validation("quantity per bow must be positive, got %d", quantityPerBow)
	}
	var out *Bow
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		b, err := getBow(ctx, tx, bowCode, true)
		if err != nil {
			return err
		}
		m, err := getMaterial(ctx, tx, materialCode, false)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return validation("material %s is inactive and cannot be used in a recipe", m.Code)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO recipe_rows (bow_id, material_id, quantity_per_bow)
			VALUES ($1, $2, $3)
			ON CONFLICT (bow_id, material_id) DO UPDATE SET quantity_per_bow = EXCLUDED.quantity_per_bow
		`, b.ID, m.ID, quantityPerBow); err != nil {
			return fmt.Errorf("failed to upsert recipe row: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE bows SET updated_at = NOW() WHERE id = $1", b.ID); err != nil {
			return fmt.Errorf("failed to touch bow: %w", err)
		}
		out, err = getBow(ctx, tx, bowCode, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *bowService) RemoveRecipeRow(ctx context.Context, bowCode, materialCode string) (*Bow, error) {
	var out *Bow
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		b, err := getBow(ctx, tx, bowCode, true)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			DELETE FROM recipe_rows r
			USING materials m
			WHERE r.material_id = m.id AND r.bow_id = $1 AND m.code = $2
		`, b.ID, normalizeCode(materialCode))
		if err != nil {
			return fmt.Errorf("failed to delete recipe row: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return notFound("bow %s has no recipe row for material %s", b.Code, normalizeCode(materialCode))
		}
		var remaining, open int
		if err := tx.QueryRow(ctx, `
			SELECT (SELECT COUNT(*) FROM recipe_rows WHERE bow_id = $1),
			       (SELECT COUNT(*)
			        FROM planned_bows pb
			        JOIN production_lists l ON l.id = pb.list_id
			        WHERE pb.bow_id = $1 AND l.state NOT IN ('finalized', 'archived'))
		`, b.ID).Scan(&remaining, &open); err != nil {
			return fmt.Errorf("failed to check recipe usage: %w", err)
		}
		if remaining == 0 && open > 0 {
			return newError(CodeInUse, "bow %s is planned in %d open lists and would be left without a recipe", b.Code, open)
		}
		if _, err := tx.Exec(ctx, "UPDATE bows SET updated_at = NOW() WHERE id = $1", b.ID); err != nil {
			return fmt.Errorf("failed to touch bow: %w", err)
		}
		out, err = getBow(ctx, tx, bowCode, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
