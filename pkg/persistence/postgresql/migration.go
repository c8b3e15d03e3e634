package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create flows table
			CREATE TABLE flows (
				id BIGSERIAL PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				approval_status VARCHAR(20) NOT NULL DEFAULT 'draft'
					CHECK (approval_status IN ('draft', 'reviewed', 'approved')),
				summary_video_ref TEXT NOT NULL DEFAULT '',
				acyclic BOOLEAN NOT NULL DEFAULT false,
				version BIGINT NOT NULL DEFAULT 1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				approved_at TIMESTAMP WITH TIME ZONE,
				approved_by VARCHAR(255) NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_flows_approval_status ON flows(approval_status);
			CREATE INDEX idx_flows_updated_at ON flows(updated_at);

			-- Step nodes, ordered by seq within a flow
			CREATE TABLE flow_nodes (
				flow_id BIGINT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				seq INT NOT NULL,
				id VARCHAR(255) NOT NULL,
				label TEXT NOT NULL DEFAULT '',
				details TEXT NOT NULL DEFAULT '',
				system VARCHAR(255) NOT NULL DEFAULT '',
				expected_result TEXT NOT NULL DEFAULT '',
				prerequisites TEXT NOT NULL DEFAULT '',
				notes TEXT NOT NULL DEFAULT '',
				start_ts DOUBLE PRECISION NOT NULL DEFAULT 0,
				duration DOUBLE PRECISION NOT NULL DEFAULT 0,
				screenshot_ref TEXT NOT NULL DEFAULT '',
				video_clip_ref TEXT NOT NULL DEFAULT '',
				position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
				position_y DOUBLE PRECISION NOT NULL DEFAULT 0,
				PRIMARY KEY (flow_id, seq)
			);

			CREATE INDEX idx_flow_nodes_flow_id ON flow_nodes(flow_id);

			-- Transitions; endpoints are not foreign keys, dangling edges are a validation concern
			CREATE TABLE flow_edges (
				flow_id BIGINT NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				seq INT NOT NULL,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				animated BOOLEAN NOT NULL DEFAULT false,
				label TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (flow_id, seq)
			);

			CREATE INDEX idx_flow_edges_flow_id ON flow_edges(flow_id);
		`,
	}
}
