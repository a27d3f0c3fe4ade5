package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow runs; the log is kept as a document alongside the row.
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL CHECK (status IN ('pending_signature', 'running', 'running_waiting', 'finished', 'failed', 'stopped')),
				execution_log JSONB NOT NULL DEFAULT '[]',
				current_node_id VARCHAR(255),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_workflow_id ON executions(workflow_id);
			CREATE INDEX idx_executions_status ON executions(status);

			CREATE TABLE pending_settlements (
				message_id VARCHAR(66) PRIMARY KEY,
				recipient VARCHAR(66) NOT NULL,
				amount NUMERIC(78, 0) NOT NULL,
				workflow_data BYTEA NOT NULL,
				token_address VARCHAR(42) NOT NULL,
				chain_id BIGINT NOT NULL,
				block_number BIGINT NOT NULL,
				transaction_hash VARCHAR(66) NOT NULL,
				status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'executing', 'completed', 'failed')),
				error TEXT,
				execution_tx_hash VARCHAR(66),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				executed_at TIMESTAMP WITH TIME ZONE,
				seq BIGSERIAL
			);

			CREATE INDEX idx_pending_settlements_status ON pending_settlements(status);

			CREATE TABLE chain_checkpoints (
				chain_id BIGINT PRIMARY KEY,
				last_checked_block BIGINT NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
		2: `
			CREATE TABLE transactions (
				id VARCHAR(64) PRIMARY KEY,
				execution_id VARCHAR(64) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				type VARCHAR(32) NOT NULL,
				asset VARCHAR(64) NOT NULL,
				amount NUMERIC NOT NULL,
				hash VARCHAR(66) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_transactions_execution_id ON transactions(execution_id);
		`,
	}
}
