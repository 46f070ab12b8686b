package store

import (
	"context"
	"sort"

	"github.com/kktae/veo-dashboard-sub000/internal/models"
	"github.com/kktae/veo-dashboard-sub000/pkg/database/postgres"
)

var schema = []postgres.Migration{
	{
		Name: "create_video_generations",
		SQL: `
	CREATE TABLE IF NOT EXISTS video_generations (
		id TEXT PRIMARY KEY,
		korean_prompt TEXT NOT NULL,
		english_prompt TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		model TEXT NOT NULL DEFAULT '',
		aspect_ratio TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		gcs_uri TEXT NOT NULL DEFAULT '',
		duration INTEGER CHECK (duration IS NULL OR duration > 0),
		resolution TEXT CHECK (resolution IS NULL OR resolution ~ '^\d+x\d+$'),
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP WITH TIME ZONE
	);
	`,
	},
	{
		Name: "index_video_generations_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_video_generations_created_at ON video_generations (created_at DESC);`,
	},
	{
		Name: "index_video_generations_status",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_video_generations_status ON video_generations (status);`,
	},
	{
		Name: "create_admin_settings",
		SQL: `
	CREATE TABLE IF NOT EXISTS admin_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);
	`,
	},
}

// Migrate creates the tables and seeds default settings without touching
// values an admin has already changed.
func (s *Store) Migrate(ctx context.Context) error {
	migrations := append([]postgres.Migration(nil), schema...)

	keys := make([]string, 0, len(models.DefaultSettings))
	for k := range models.DefaultSettings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		migrations = append(migrations, postgres.Migration{
			Name: "default_setting_" + k,
			SQL:  `INSERT INTO admin_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING;`,
			Args: []any{k, models.DefaultSettings[k]},
		})
	}
	return postgres.RunMigrations(ctx, s.pool, migrations, s.logger)
}
