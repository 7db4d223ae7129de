package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MaterialService manages the raw material catalog. Stock is never written here
// directly: initial stock goes through the inventory ledger.
type MaterialService interface {
	Create(ctx context.Context, in MaterialInput) (*Material, error)
	Update(ctx context.Context, code string, u MaterialUpdate) (*Material, error)
	// Deactivate fails with IN_USE while an active bow's recipe references the material.
	Deactivate(ctx context.Context, code string) error
	// Delete fails with IN_USE when recipe rows, movements or lists reference the material.
	Delete(ctx context.Context, code string) error
	Get(ctx context.Context, code string) (*Material, error)
	List(ctx context.Context, filter MaterialFilter) ([]Material, error)
	// LowStock lists active materials at or below the configured alert threshold.
	LowStock(ctx context.Context) ([]Material, error)
}

type materialService struct {
	db        *DB
	inventory InventoryLedger
}

func NewMaterialService(db *DB, inventory InventoryLedger) MaterialService {
	return &materialService{db: db, inventory: inventory}
}

const materialColumns = `id, code, name, category, container_type, base_unit, conversion_factor,
		stock_on_hand, purchase_price, is_active, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Category, &m.ContainerType, &m.BaseUnit,
		&m.ConversionFactor, &m.StockOnHand, &m.PurchasePrice, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func getMaterial(ctx context.Context, q querier, code string, forUpdate bool) (*Material, error) {
	sql := "SELECT " + materialColumns + " FROM materials WHERE code = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	m, err := scanMaterial(q.QueryRow(ctx, sql, normalizeCode(code)))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("material %s not found", normalizeCode(code))
		}
		return nil, fmt.Errorf("failed to fetch material %s: %w", code, err)
	}
	return &m, nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *materialService) Create(ctx context.Context, in MaterialInput) (*Material, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var m Material
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM materials WHERE code = $1)", in.Code).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check material code: %w", err)
		}
		if exists {
			return validation("material code %s already exists", in.Code)
		}

		var err error
		m, err = scanMaterial(tx.QueryRow(ctx, `
			INSERT INTO materials (code, name, category, container_type, base_unit, conversion_factor, purchase_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING `+materialColumns,
			in.Code, in.Name, in.Category, in.ContainerType, in.BaseUnit, in.ConversionFactor, in.PurchasePrice.Round(2)))
		if err != nil {
			return fmt.Errorf("failed to insert material: %w", err)
		}

		if in.InitialStock > 0 {
			mv, err := s.inventory.RecordTx(ctx, tx, MovementInput{
				MaterialID: m.ID,
				Kind:       MovementEntry,
				Quantity:   in.InitialStock,
				Detail:     "initial stock",
				Actor:      in.Actor,
			})
			if err != nil {
				return err
			}
			m.StockOnHand = mv.StockAfter
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *materialService) Update(ctx context.Context, code string, u MaterialUpdate) (*Material, error) {
	var out *Material
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		current, err := getMaterial(ctx, tx, code, true)
		if err != nil {
			return err
		}
		next, err := u.Apply(*current)
		if err != nil {
			return err
		}
		m, err := scanMaterial(tx.QueryRow(ctx, `
			UPDATE materials
			SET name = $1, category = $2, container_type = $3, base_unit = $4,
			    conversion_factor = $5, purchase_price = $6, updated_at = NOW()
			WHERE id = $7
			RETURNING `+materialColumns,
			next.Name, next.Category, next.ContainerType, next.BaseUnit,
			next.ConversionFactor, next.PurchasePrice.Round(2), current.ID))
		if err != nil {
			return fmt.Errorf("failed to update material: %w", err)
		}
		out = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *materialService) Deactivate(ctx context.Context, code string) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		m, err := getMaterial(ctx, tx, code, true)
		if err != nil {
			return err
		}
		bows, err := bowCodesUsing(ctx, tx, m.ID, true)
		if err != nil {
			return err
		}
		if len(bows) > 0 {
			return newError(CodeInUse, "material %s is in the recipe of active bows: %s", m.Code, strings.Join(bows, ", "))
		}
		if _, err := tx.Exec(ctx, "UPDATE materials SET is_active = false, updated_at = NOW() WHERE id = $1", m.ID); err != nil {
			return fmt.Errorf("failed to deactivate material: %w", err)
		}
		return nil
	})
}

func (s *materialService) Delete(ctx context.Context, code string) error {
	return s.db.inTx(ctx, func(tx pgx.Tx) error {
		m, err := getMaterial(ctx, tx, code, true)
		if err != nil {
			return err
		}
		bows, err := bowCodesUsing(ctx, tx, m.ID, false)
		if err != nil {
			return err
		}
		if len(bows) > 0 {
			return newError(CodeInUse, "material %s is in the recipe of bows: %s", m.Code, strings.Join(bows, ", "))
		}
		// Movements and list summaries hold foreign keys; a violation surfaces as IN_USE.
		if _, err := tx.Exec(ctx, "DELETE FROM materials WHERE id = $1", m.ID); err != nil {
			return fmt.Errorf("failed to delete material %s: %w", m.Code, err)
		}
		return nil
	})
}

// bowCodesUsing returns the codes of bows whose recipe references materialID.
func bowCodesUsing(ctx context.Context, q querier, materialID int, activeOnly bool) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT b.code
		FROM recipe_rows r
		JOIN bows b ON b.id = r.bow_id
		WHERE r.material_id = $1 AND (b.is_active OR NOT $2)
		ORDER BY b.code
	`, materialID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipe references: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan bow code: %w", err)
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

func (s *materialService) Get(ctx context.Context, code string) (*Material, error) {
	return getMaterial(ctx, s.db.pool, code, false)
}

func (s *materialService) List(ctx context.Context, filter MaterialFilter) ([]Material, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE (is_active OR $1)
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR code ILIKE '%' || $3 || '%' OR name ILIKE '%' || $3 || '%')
		ORDER BY code
	`, filter.IncludeInactive, strings.TrimSpace(filter.Category), strings.TrimSpace(filter.Search))
	if err != nil {
		return nil, fmt.Errorf("failed to query materials: %w", err)
	}
	return collectMaterials(rows)
}

func (s *materialService) LowStock(ctx context.Context) ([]Material, error) {
	settings, err := loadSettings(ctx, s.db.pool)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.pool.Query(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE is_active AND stock_on_hand <= $1
		ORDER BY stock_on_hand, code
	`, settings.LowStockAlertThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to query low stock materials: %w", err)
	}
	return collectMaterials(rows)
}

func collectMaterials(rows pgx.Rows) ([]Material, error) {
	defer rows.Close()
	var out []Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan material: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
