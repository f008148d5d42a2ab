package store

func (s *Store) schemaVersionDDL() string {
	if s.dialect == DialectPostgres {
		return `CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ DEFAULT now()
)`
	}
	return `CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`
}

// Schema v1 (SQLite) - the catalogue tables the crawler reads and writes.
// Statements are separated by semicolons and must not contain them otherwise.
const schemaV1SQLite = `
-- Publishers
CREATE TABLE IF NOT EXISTS publishers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL
);

-- Game systems (one row per slug)
CREATE TABLE IF NOT EXISTS game_systems (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL,
  slug TEXT UNIQUE NOT NULL,
  external_refs TEXT,
  source_of_truth TEXT,
  release_date TEXT,
  year_released INTEGER,
  description_scraped TEXT,
  min_players INTEGER,
  max_players INTEGER,
  average_play_time INTEGER,
  age_rating TEXT,
  complexity_rating TEXT,
  publisher_id INTEGER REFERENCES publishers(id),
  hero_image_id INTEGER,
  crawl_status TEXT,
  last_crawled_at DATETIME,
  last_success_at DATETIME,
  error_message TEXT,
  cms_approved INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Taxonomy
CREATE TABLE IF NOT EXISTS game_system_categories (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS game_system_mechanics (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS game_system_to_category (
  game_system_id INTEGER NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  category_id INTEGER NOT NULL REFERENCES game_system_categories(id) ON DELETE CASCADE,
  PRIMARY KEY (game_system_id, category_id)
);

CREATE TABLE IF NOT EXISTS game_system_to_mechanics (
  game_system_id INTEGER NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  mechanics_id INTEGER NOT NULL REFERENCES game_system_mechanics(id) ON DELETE CASCADE,
  PRIMARY KEY (game_system_id, mechanics_id)
);

CREATE TABLE IF NOT EXISTS external_category_map (
  source TEXT NOT NULL,
  external_tag TEXT NOT NULL,
  category_id INTEGER NOT NULL REFERENCES game_system_categories(id) ON DELETE CASCADE,
  PRIMARY KEY (source, external_tag)
);

CREATE TABLE IF NOT EXISTS external_mechanic_map (
  source TEXT NOT NULL,
  external_tag TEXT NOT NULL,
  mechanic_id INTEGER NOT NULL REFERENCES game_system_mechanics(id) ON DELETE CASCADE,
  PRIMARY KEY (source, external_tag)
);

-- Media
CREATE TABLE IF NOT EXISTS media_assets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  game_system_id INTEGER NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  public_id TEXT NOT NULL,
  secure_url TEXT NOT NULL,
  width INTEGER,
  height INTEGER,
  format TEXT,
  license TEXT,
  license_url TEXT,
  kind TEXT NOT NULL DEFAULT 'hero',
  order_index INTEGER NOT NULL DEFAULT 0,
  moderated INTEGER NOT NULL DEFAULT 0,
  checksum TEXT,
  created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
  UNIQUE (game_system_id, checksum)
);

-- Crawl audit
CREATE TABLE IF NOT EXISTS system_crawl_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  game_system_id INTEGER NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  source TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  finished_at DATETIME NOT NULL,
  severity TEXT NOT NULL DEFAULT 'info',
  error_message TEXT,
  details TEXT
);
`

// Schema v1 (PostgreSQL)
const schemaV1Postgres = `
CREATE TABLE IF NOT EXISTS publishers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS game_systems (
  id BIGSERIAL PRIMARY KEY,
  name TEXT UNIQUE NOT NULL,
  slug TEXT UNIQUE NOT NULL,
  external_refs JSONB,
  source_of_truth TEXT,
  release_date DATE,
  year_released INTEGER,
  description_scraped TEXT,
  min_players INTEGER,
  max_players INTEGER,
  average_play_time INTEGER,
  age_rating TEXT,
  complexity_rating TEXT,
  publisher_id BIGINT REFERENCES publishers(id),
  hero_image_id BIGINT,
  crawl_status TEXT,
  last_crawled_at TIMESTAMPTZ,
  last_success_at TIMESTAMPTZ,
  error_message TEXT,
  cms_approved BOOLEAN NOT NULL DEFAULT false,
  created_at TIMESTAMPTZ DEFAULT now(),
  updated_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS game_system_categories (
  id BIGSERIAL PRIMARY KEY,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS game_system_mechanics (
  id BIGSERIAL PRIMARY KEY,
  name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS game_system_to_category (
  game_system_id BIGINT NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  category_id BIGINT NOT NULL REFERENCES game_system_categories(id) ON DELETE CASCADE,
  PRIMARY KEY (game_system_id, category_id)
);

CREATE TABLE IF NOT EXISTS game_system_to_mechanics (
  game_system_id BIGINT NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  mechanics_id BIGINT NOT NULL REFERENCES game_system_mechanics(id) ON DELETE CASCADE,
  PRIMARY KEY (game_system_id, mechanics_id)
);

CREATE TABLE IF NOT EXISTS external_category_map (
  source TEXT NOT NULL,
  external_tag TEXT NOT NULL,
  category_id BIGINT NOT NULL REFERENCES game_system_categories(id) ON DELETE CASCADE,
  PRIMARY KEY (source, external_tag)
);

CREATE TABLE IF NOT EXISTS external_mechanic_map (
  source TEXT NOT NULL,
  external_tag TEXT NOT NULL,
  mechanic_id BIGINT NOT NULL REFERENCES game_system_mechanics(id) ON DELETE CASCADE,
  PRIMARY KEY (source, external_tag)
);

CREATE TABLE IF NOT EXISTS media_assets (
  id BIGSERIAL PRIMARY KEY,
  game_system_id BIGINT NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  public_id TEXT NOT NULL,
  secure_url TEXT NOT NULL,
  width INTEGER,
  height INTEGER,
  format TEXT,
  license TEXT,
  license_url TEXT,
  kind TEXT NOT NULL DEFAULT 'hero',
  order_index INTEGER NOT NULL DEFAULT 0,
  moderated BOOLEAN NOT NULL DEFAULT false,
  checksum TEXT,
  created_at TIMESTAMPTZ DEFAULT now(),
  UNIQUE (game_system_id, checksum)
);

CREATE TABLE IF NOT EXISTS system_crawl_events (
  id BIGSERIAL PRIMARY KEY,
  game_system_id BIGINT NOT NULL REFERENCES game_systems(id) ON DELETE CASCADE,
  source TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  severity TEXT NOT NULL DEFAULT 'info',
  error_message TEXT,
  details JSONB
);
`

// Schema v2 - indexes for status queries and the event feed (both dialects)
const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_game_systems_crawl_status ON game_systems(crawl_status);
CREATE INDEX IF NOT EXISTS idx_media_assets_system_kind ON media_assets(game_system_id, kind);
CREATE INDEX IF NOT EXISTS idx_crawl_events_system ON system_crawl_events(game_system_id, finished_at);
CREATE INDEX IF NOT EXISTS idx_crawl_events_finished ON system_crawl_events(finished_at);
`
