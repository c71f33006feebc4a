// Package chain provides communication with the remote Luna chain endpoint.
package chain

import "time"

// Transaction is a chain transaction as the endpoint serializes it
type Transaction struct {
	Type        string  `json:"type"`
	From        string  `json:"from,omitempty"`
	To          string  `json:"to,omitempty"`
	Amount      float64 `json:"amount,omitempty"`
	Fee         float64 `json:"fee,omitempty"`
	Timestamp   float64 `json:"timestamp,omitempty"`
	Hash        string  `json:"hash,omitempty"`
	BlockHeight int64   `json:"block_height,omitempty"`
	Description string  `json:"description,omitempty"`
}

// Block is a chain block as the endpoint serializes it
type Block struct {
	Index        int64         `json:"index"`
	PreviousHash string        `json:"previous_hash"`
	Timestamp    float64       `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	Miner        string        `json:"miner"`
	Difficulty   int           `json:"difficulty"`
	Nonce        int64         `json:"nonce"`
	Reward       float64       `json:"reward"`
	Hash         string        `json:"hash"`
	Version      int           `json:"version"`
}

// ValidationResult is the endpoint's structural validation verdict
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// SubmitResult is the endpoint's response to a block submission
type SubmitResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// NetworkSnapshot is one throttled read of the remote chain state.
// A failed sub-call leaves that field at its zero value for the
// remainder of the TTL window.
type NetworkSnapshot struct {
	Height      int64
	Latest      *Block
	MempoolSize int
	FetchedAt   time.Time
}
