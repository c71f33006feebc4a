// Package storage provides data persistence for Luna Node.
package storage

// Settings is the flat, persisted node configuration record. It is the
// single source of truth for mining behavior; all mutation goes through
// an explicit update-and-persist call on the orchestrator.
type Settings struct {
	PayoutAddress    string `json:"payout_address"`
	Difficulty       int    `json:"difficulty"`
	AutoMine         bool   `json:"auto_mine"`
	MiningInterval   int    `json:"mining_interval"`
	UseGPU           bool   `json:"use_gpu"`
	HashAlgorithm    string `json:"hash_algorithm"`
	HashWorkerCount  int    `json:"hash_worker_count"`
	GPUBatchSize     int    `json:"gpu_batch_size"`
	PerformanceLevel int    `json:"performance_level"`
	EndpointURL      string `json:"endpoint_url"`
	LastScanHeight   int64  `json:"last_scan_height"`
}

// History record status values
const (
	HistorySuccess = "success"
	HistoryFailure = "failure"
)

// Mining method names as they appear in history and status
const (
	MethodCPU  = "cpu"
	MethodCUDA = "cuda"
)

// HistoryRecord is one append-only mining attempt entry. The persisted
// history list is the source of truth for blocksMined and totalReward.
type HistoryRecord struct {
	Timestamp  float64 `json:"timestamp"`
	Status     string  `json:"status"`
	BlockIndex int64   `json:"block_index"`
	Hash       string  `json:"hash"`
	Nonce      int64   `json:"nonce"`
	Difficulty int     `json:"difficulty"`
	MiningTime float64 `json:"mining_time"`
	Reward     float64 `json:"reward"`
	Method     string  `json:"method"`
}

// StatusSnapshot is a point-in-time node status. Snapshots are always
// merged against DefaultStatus so no field ever surfaces missing.
type StatusSnapshot struct {
	NetworkHeight        int64   `json:"network_height"`
	NetworkDifficulty    int     `json:"network_difficulty"`
	PreviousHash         string  `json:"previous_hash"`
	MinerAddress         string  `json:"miner_address"`
	BlocksMined          int     `json:"blocks_mined"`
	AutoMining           bool    `json:"auto_mining"`
	ConfiguredDifficulty int     `json:"configured_difficulty"`
	TotalReward          float64 `json:"total_reward"`
	TotalTransactions    int     `json:"total_transactions"`
	ConnectionStatus     string  `json:"connection_status"`
	PeerCount            int     `json:"peer_count"`
	Uptime               float64 `json:"uptime"`
	TotalMiningAttempts  int     `json:"total_mining_attempts"`
	SuccessRate          float64 `json:"success_rate"`
	AvgMiningTime        float64 `json:"avg_mining_time"`
	CurrentHashRate      float64 `json:"current_hash_rate"`
	CurrentHash          string  `json:"current_hash"`
	CurrentNonce         int64   `json:"current_nonce"`
	HashAlgorithm        string  `json:"hash_algorithm"`
	CUDAAvailable        bool    `json:"cuda_available"`
	MiningMethod         string  `json:"mining_method"`
}

// DefaultStatus returns the fixed template a snapshot is merged against
func DefaultStatus() StatusSnapshot {
	return StatusSnapshot{
		NetworkDifficulty:    1,
		PreviousHash:         "0000000000000000000000000000000000000000000000000000000000000000",
		ConfiguredDifficulty: 1,
		ConnectionStatus:     "disconnected",
		HashAlgorithm:        "sha256",
		MiningMethod:         MethodCPU,
	}
}

// LogEntry is one node log line persisted alongside the zap stream so a
// UI can replay system health after restart.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}
