package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL DEFAULT 'draft',
				priority VARCHAR(20) NOT NULL DEFAULT 'medium',
				steps JSONB NOT NULL DEFAULT '[]',
				steps_version INTEGER NOT NULL DEFAULT 1,
				total_steps INTEGER NOT NULL DEFAULT 0,
				tags JSONB NOT NULL DEFAULT '[]',
				owners JSONB NOT NULL DEFAULT '[]',
				triggers JSONB NOT NULL DEFAULT '[]',
				variables JSONB NOT NULL DEFAULT '{}',
				run_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows (status);

			CREATE TABLE IF NOT EXISTS webhook_endpoints (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				url TEXT NOT NULL,
				secret TEXT NOT NULL DEFAULT '',
				events JSONB NOT NULL DEFAULT '[]',
				headers JSONB NOT NULL DEFAULT '{}',
				status VARCHAR(20) NOT NULL DEFAULT 'active',
				retry_count INTEGER NOT NULL DEFAULT 3,
				retry_delay_seconds INTEGER NOT NULL DEFAULT 5,
				timeout_ms INTEGER NOT NULL DEFAULT 10000,
				verify_ssl BOOLEAN NOT NULL DEFAULT TRUE,
				breaker_threshold INTEGER NOT NULL DEFAULT 5,
				total_deliveries BIGINT NOT NULL DEFAULT 0,
				successful_deliveries BIGINT NOT NULL DEFAULT 0,
				failed_deliveries BIGINT NOT NULL DEFAULT 0,
				consecutive_failures BIGINT NOT NULL DEFAULT 0,
				last_triggered_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS tasks (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				steps_version INTEGER NOT NULL DEFAULT 1,
				status VARCHAR(20) NOT NULL,
				priority VARCHAR(20) NOT NULL DEFAULT 'medium',
				current_step_index INTEGER NOT NULL DEFAULT 0,
				input JSONB,
				output JSONB,
				step_results JSONB NOT NULL DEFAULT '[]',
				failure_kind VARCHAR(20) NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				deadline TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_workflow_id ON tasks (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_tasks_started_at ON tasks (started_at DESC);

			CREATE TABLE IF NOT EXISTS deliveries (
				id UUID PRIMARY KEY,
				endpoint_id UUID NOT NULL,
				event_type VARCHAR(100) NOT NULL,
				payload JSONB,
				attempt_number INTEGER NOT NULL DEFAULT 0,
				status VARCHAR(20) NOT NULL,
				response_code INTEGER,
				latency_ms BIGINT,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				delivered_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_deliveries_endpoint_id ON deliveries (endpoint_id, created_at DESC);
		`,
	}
}
