package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				trigger JSONB NOT NULL,
				nodes JSONB NOT NULL,
				metadata JSONB,
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_automations_enabled ON automations(enabled);
			CREATE INDEX idx_automations_trigger_type ON automations((trigger->>'type'));
			CREATE INDEX idx_automations_deleted_at ON automations(deleted_at);

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				trigger_instance_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255),
				context JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'suspended', 'completed', 'failed')),
				resume_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				visits INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (automation_id, subscriber_id, trigger_instance_id)
			);

			CREATE INDEX idx_runs_status_resume_at ON runs(status, resume_at);

			CREATE TABLE automation_log (
				id UUID PRIMARY KEY,
				automation_id UUID NOT NULL,
				run_id UUID,
				node_id VARCHAR(255) NOT NULL,
				subscriber_id VARCHAR(255) NOT NULL,
				trigger_instance_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('success', 'failure')),
				input JSONB,
				output JSONB,
				error TEXT,
				attempt INTEGER NOT NULL DEFAULT 1,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automation_log_automation ON automation_log(automation_id, executed_at);
			CREATE INDEX idx_automation_log_subscriber ON automation_log(subscriber_id, executed_at);
			CREATE INDEX idx_automation_log_trigger ON automation_log(automation_id, subscriber_id, trigger_instance_id);
		`,
	}
}
