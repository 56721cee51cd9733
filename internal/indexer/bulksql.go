package indexer

// SQL templates for the bulk loader. Each reads JSON files directly with
// DuckDB's native reader and projects them into a raw table in a single
// statement. %s placeholders take the validated storage sub-path and, where
// applicable, an optional time filter; the path is sanitized by
// validateStoragePath before interpolation.

// loadSessionsSQL loads session files. The optional time filter compares the
// JSON-internal created timestamp against the cutoff. Sessions and messages
// use an explicit columns schema like parts, so optional keys that no file
// carries (parentID, model, path, ...) read as NULL instead of failing to bind.
const loadSessionsSQL = `
INSERT OR REPLACE INTO sessions (
    id, project_id, directory, title, parent_id, version,
    additions, deletions, files_changed, created_at, updated_at
)
SELECT
    id,
    projectID as project_id,
    directory,
    title,
    parentID as parent_id,
    version,
    COALESCE(summary.additions, 0) as additions,
    COALESCE(summary.deletions, 0) as deletions,
    COALESCE(summary.files, 0) as files_changed,
    to_timestamp("time".created / 1000.0) as created_at,
    to_timestamp("time".updated / 1000.0) as updated_at
FROM read_json_auto('%s/**/*.json',
    maximum_object_size=10485760,
    ignore_errors=true,
    columns={
        'id': 'VARCHAR', 'projectID': 'VARCHAR', 'directory': 'VARCHAR',
        'title': 'VARCHAR', 'parentID': 'VARCHAR', 'version': 'VARCHAR',
        'summary': 'STRUCT(additions BIGINT, deletions BIGINT, files BIGINT)',
        'time': 'STRUCT(created BIGINT, updated BIGINT)'
    }
)
%s
`

const loadMessagesSQL = `
INSERT OR REPLACE INTO messages (
    id, session_id, parent_id, role, agent, model_id, provider_id,
    mode, cost, finish_reason, working_dir,
    tokens_input, tokens_output, tokens_reasoning,
    tokens_cache_read, tokens_cache_write, created_at, completed_at
)
SELECT
    id,
    sessionID as session_id,
    parentID as parent_id,
    role,
    agent,
    COALESCE(modelID, model.modelID) as model_id,
    COALESCE(providerID, model.providerID) as provider_id,
    mode,
    COALESCE(cost, 0) as cost,
    finish as finish_reason,
    path.cwd as working_dir,
    COALESCE(tokens."input", 0) as tokens_input,
    COALESCE(tokens.output, 0) as tokens_output,
    COALESCE(tokens.reasoning, 0) as tokens_reasoning,
    COALESCE(tokens."cache".read, 0) as tokens_cache_read,
    COALESCE(tokens."cache".write, 0) as tokens_cache_write,
    to_timestamp("time".created / 1000.0) as created_at,
    to_timestamp("time".completed / 1000.0) as completed_at
FROM read_json_auto('%s/**/*.json',
    maximum_object_size=10485760,
    ignore_errors=true,
    columns={
        'id': 'VARCHAR', 'sessionID': 'VARCHAR', 'parentID': 'VARCHAR',
        'role': 'VARCHAR', 'agent': 'VARCHAR', 'mode': 'VARCHAR', 'finish': 'VARCHAR',
        'modelID': 'VARCHAR', 'providerID': 'VARCHAR', 'cost': 'DOUBLE',
        'model': 'STRUCT(modelID VARCHAR, providerID VARCHAR)',
        'path': 'STRUCT(cwd VARCHAR)',
        'tokens': 'STRUCT("input" BIGINT, output BIGINT, reasoning BIGINT, "cache" STRUCT(read BIGINT, "write" BIGINT))',
        'time': 'STRUCT(created BIGINT, completed BIGINT)'
    }
)
%s
`

// loadPartsSQL loads part files. The explicit columns schema guarantees both
// the top-level and the state.* time structs exist even when individual
// files omit them; without it DuckDB errors on missing struct keys. Tool
// parts carry their times under state.time, other parts under time.
const loadPartsSQL = `
INSERT OR REPLACE INTO parts (
    id, session_id, message_id, part_type, content, tool_name, tool_status,
    call_id, created_at, ended_at, duration_ms, arguments, error_message
)
SELECT
    id,
    sessionID as session_id,
    messageID as message_id,
    type as part_type,
    text as content,
    tool as tool_name,
    TRY(state.status) as tool_status,
    callID as call_id,
    COALESCE(
        to_timestamp(TRY(state."time"."start") / 1000.0),
        to_timestamp(TRY("time"."start") / 1000.0)
    ) as created_at,
    COALESCE(
        to_timestamp(TRY(state."time"."end") / 1000.0),
        to_timestamp(TRY("time"."end") / 1000.0)
    ) as ended_at,
    CASE
        WHEN TRY(state."time"."end") IS NOT NULL AND TRY(state."time"."start") IS NOT NULL
        THEN (TRY(state."time"."end") - TRY(state."time"."start"))
        WHEN TRY("time"."end") IS NOT NULL AND TRY("time"."start") IS NOT NULL
        THEN (TRY("time"."end") - TRY("time"."start"))
        ELSE NULL
    END as duration_ms,
    to_json(TRY(state."input")) as arguments,
    NULL as error_message
FROM read_json_auto('%s/**/*.json',
    maximum_object_size=10485760,
    ignore_errors=true,
    union_by_name=true,
    columns={
        'id': 'VARCHAR',
        'sessionID': 'VARCHAR',
        'messageID': 'VARCHAR',
        'type': 'VARCHAR',
        'text': 'VARCHAR',
        'tool': 'VARCHAR',
        'callID': 'VARCHAR',
        'state': 'STRUCT(status VARCHAR, "input" JSON, "time" STRUCT("start" BIGINT, "end" BIGINT))',
        'time': 'STRUCT("start" BIGINT, "end" BIGINT)'
    }
)
`

// loadStepEventsSQL materializes step-start / step-finish parts into their
// own table, with the token snapshot a step-finish carries.
const loadStepEventsSQL = `
INSERT OR REPLACE INTO step_events (
    id, session_id, message_id, kind, created_at, tokens_input, tokens_output
)
SELECT
    id,
    sessionID as session_id,
    messageID as message_id,
    type as kind,
    to_timestamp(TRY("time"."start") / 1000.0) as created_at,
    TRY(tokens."input") as tokens_input,
    TRY(tokens.output) as tokens_output
FROM read_json_auto('%s/**/*.json',
    maximum_object_size=10485760,
    ignore_errors=true,
    union_by_name=true,
    columns={
        'id': 'VARCHAR',
        'sessionID': 'VARCHAR',
        'messageID': 'VARCHAR',
        'type': 'VARCHAR',
        'time': 'STRUCT("start" BIGINT, "end" BIGINT)',
        'tokens': 'STRUCT("input" BIGINT, output BIGINT)'
    }
)
WHERE type IN ('step-start', 'step-finish')
`

// loadPatchesSQL materializes patch parts (git commits recorded by the
// runtime) into the patches table.
const loadPatchesSQL = `
INSERT OR REPLACE INTO patches (
    id, session_id, git_hash, files, created_at
)
SELECT
    id,
    sessionID as session_id,
    hash as git_hash,
    to_json(TRY(files)) as files,
    to_timestamp(TRY("time"."start") / 1000.0) as created_at
FROM read_json_auto('%s/**/*.json',
    maximum_object_size=10485760,
    ignore_errors=true,
    union_by_name=true,
    columns={
        'id': 'VARCHAR',
        'sessionID': 'VARCHAR',
        'type': 'VARCHAR',
        'hash': 'VARCHAR',
        'files': 'VARCHAR[]',
        'time': 'STRUCT("start" BIGINT, "end" BIGINT)'
    }
)
WHERE type = 'patch'
`
