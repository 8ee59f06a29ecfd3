package store

// schemaStatements are applied in order at Open time. Every timestamp
// column is TEXT holding an ISO-8601 UTC string and every boolean is
// INTEGER 0/1, so the identical DDL (and identical $N-placeholder
// queries) runs unchanged against both the sqlite and postgres
// backends.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		display_name TEXT,
		bio TEXT,
		banned INTEGER NOT NULL DEFAULT 0,
		juror_eligible INTEGER NOT NULL DEFAULT 0,
		notify_url TEXT,
		stats_public INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agent_capabilities (
		token_hash TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		expires_at TEXT,
		revoked_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS juror_availability (
		agent_id TEXT PRIMARY KEY,
		availability TEXT NOT NULL,
		profile TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS cases (
		case_id TEXT PRIMARY KEY,
		public_slug TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		session_stage TEXT NOT NULL,
		ruleset_version TEXT NOT NULL,
		prosecution_agent_id TEXT NOT NULL,
		defendant_agent_id TEXT,
		defence_agent_id TEXT,
		defence_state TEXT NOT NULL,
		replacement_count_ready INTEGER NOT NULL DEFAULT 0,
		replacement_count_vote INTEGER NOT NULL DEFAULT 0,
		filed_at TEXT NOT NULL,
		scheduled_session_start_at TEXT,
		drand_round INTEGER,
		drand_randomness TEXT,
		pool_snapshot_hash TEXT,
		selection_proof_hash TEXT,
		verdict_hash TEXT,
		outcome TEXT,
		void_reason TEXT,
		voided_at TEXT,
		seal_status TEXT NOT NULL DEFAULT 'pending',
		seal_asset_id TEXT,
		seal_tx_sig TEXT,
		seal_uri TEXT,
		metadata_uri TEXT,
		sealed_at TEXT,
		treasury_tx_sig TEXT UNIQUE,
		defence_invite_status TEXT NOT NULL DEFAULT 'none',
		defence_invite_attempts INTEGER NOT NULL DEFAULT 0,
		defence_invite_last_error TEXT,
		last_event_seq_no INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS claims (
		claim_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		claim_index INTEGER NOT NULL,
		summary TEXT NOT NULL,
		requested_remedy TEXT,
		alleged_principles TEXT NOT NULL,
		claim_outcome TEXT NOT NULL DEFAULT 'undecided'
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		submission_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		side TEXT NOT NULL,
		phase TEXT NOT NULL,
		text TEXT NOT NULL,
		principle_citations TEXT,
		claim_principle_citations TEXT,
		evidence_citations TEXT,
		content_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(case_id, side, phase)
	)`,
	`CREATE TABLE IF NOT EXISTS evidence_items (
		evidence_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		submitted_by TEXT NOT NULL,
		kind TEXT NOT NULL,
		body_text TEXT NOT NULL,
		"references" TEXT,
		attachment_urls TEXT,
		body_hash TEXT NOT NULL,
		evidence_types TEXT,
		evidence_strength TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jury_panel_members (
		case_id TEXT NOT NULL,
		juror_id TEXT NOT NULL,
		score_hash TEXT NOT NULL,
		member_status TEXT NOT NULL,
		ready_deadline_at TEXT,
		voting_deadline_at TEXT,
		replacement_of_juror_id TEXT,
		replaced_by_juror_id TEXT,
		selection_run_id TEXT NOT NULL,
		PRIMARY KEY (case_id, juror_id)
	)`,
	`CREATE TABLE IF NOT EXISTS ballots (
		ballot_id TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		juror_id TEXT NOT NULL,
		votes TEXT NOT NULL,
		reasoning_summary TEXT,
		vote TEXT,
		principles_relied_on TEXT,
		confidence REAL,
		ballot_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(case_id, juror_id)
	)`,
	`CREATE TABLE IF NOT EXISTS case_runtime (
		case_id TEXT PRIMARY KEY,
		current_stage TEXT NOT NULL,
		stage_started_at TEXT NOT NULL,
		stage_deadline_at TEXT,
		scheduled_session_start_at TEXT,
		voting_hard_deadline_at TEXT,
		void_reason TEXT,
		voided_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS transcript_events (
		case_id TEXT NOT NULL,
		seq_no INTEGER NOT NULL,
		actor_role TEXT NOT NULL,
		actor_id TEXT,
		event_type TEXT NOT NULL,
		stage TEXT,
		message TEXT,
		artifact_ref TEXT,
		payload TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (case_id, seq_no)
	)`,
	`CREATE TABLE IF NOT EXISTS seal_jobs (
		job_id TEXT PRIMARY KEY,
		case_id TEXT UNIQUE,
		proposal_id TEXT UNIQUE,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		payload_hash TEXT NOT NULL,
		request_json TEXT NOT NULL,
		response_json TEXT,
		claimed_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS used_treasury_tx (
		tx_sig TEXT PRIMARY KEY,
		case_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		amount_lamports INTEGER NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_records (
		agent_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		response_status INTEGER,
		response_json TEXT,
		status TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (agent_id, method, path, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_action_log (
		agent_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		case_id TEXT,
		signature TEXT NOT NULL,
		timestamp_sec INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (agent_id, signature, timestamp_sec)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_case_activity (
		agent_id TEXT NOT NULL,
		case_id TEXT NOT NULL,
		role TEXT NOT NULL,
		won INTEGER NOT NULL DEFAULT 0,
		voided INTEGER NOT NULL DEFAULT 0,
		closed_at TEXT NOT NULL,
		PRIMARY KEY (agent_id, case_id, role)
	)`,
	`CREATE TABLE IF NOT EXISTS agent_stats_cache (
		agent_id TEXT PRIMARY KEY,
		cases_filed INTEGER NOT NULL DEFAULT 0,
		cases_defended INTEGER NOT NULL DEFAULT 0,
		cases_judged INTEGER NOT NULL DEFAULT 0,
		wins INTEGER NOT NULL DEFAULT 0,
		losses INTEGER NOT NULL DEFAULT 0,
		voids INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agreements (
		proposal_id TEXT PRIMARY KEY,
		agreement_code TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL,
		party_a_agent_id TEXT NOT NULL,
		party_b_agent_id TEXT NOT NULL,
		terms_hash TEXT NOT NULL,
		canonical_terms TEXT NOT NULL,
		sig_a TEXT NOT NULL,
		sig_b TEXT,
		status TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		accepted_at TEXT,
		sealed_at TEXT,
		seal_asset_id TEXT,
		seal_tx_sig TEXT,
		seal_uri TEXT,
		metadata_uri TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_outbox (
		id TEXT PRIMARY KEY,
		target_url TEXT NOT NULL,
		kind TEXT NOT NULL,
		body TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		last_error TEXT,
		scheduled_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS engine_diagnostics (
		case_id TEXT PRIMARY KEY,
		failure_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		last_attempt_at TEXT
	)`,
}
