package db

// SchemaSQL contains the database schema initialization SQL.
// Scenario records are keyed by the deterministic scenario id, so inserting
// the same unit twice addresses the same record.
const SchemaSQL = `
    -- ==========================================================================
    -- SCENARIO TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS scenario SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS experiment_id ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS run_id ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS domain ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS tier ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS repetition ON scenario TYPE int;
    DEFINE FIELD IF NOT EXISTS model_id ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS task_title ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS task_description ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS business_context ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS complexity_level ON scenario TYPE string;
    -- Opaque documents are kept as JSON text and passed through unchanged
    DEFINE FIELD IF NOT EXISTS domain_data ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS success_criteria ON scenario TYPE string;
    DEFINE FIELD IF NOT EXISTS control_expectations ON scenario TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS generation_duration_ms ON scenario TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS created_at ON scenario TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS scenario_experiment ON scenario FIELDS experiment_id;
    DEFINE INDEX IF NOT EXISTS scenario_run ON scenario FIELDS run_id;

    -- ==========================================================================
    -- GENERATION RUN TABLE
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS generation_run SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS experiment_id ON generation_run TYPE string;
    DEFINE FIELD IF NOT EXISTS models ON generation_run TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS status ON generation_run TYPE string;
    DEFINE FIELD IF NOT EXISTS total ON generation_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS completed ON generation_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS failed ON generation_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS stored ON generation_run TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS concurrency ON generation_run TYPE int DEFAULT 1;
    DEFINE FIELD IF NOT EXISTS error ON generation_run TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS started_at ON generation_run TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS finished_at ON generation_run TYPE option<datetime>;

    DEFINE INDEX IF NOT EXISTS generation_run_status ON generation_run FIELDS status;
    DEFINE INDEX IF NOT EXISTS generation_run_experiment ON generation_run FIELDS experiment_id;
`
